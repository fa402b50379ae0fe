// Package command contains write operations (CQRS - Commands).
// Every attempt mutation funnels through UpdateAttemptStatusHandler;
// the other commands are thin orchestration around it.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/notification"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE ATTEMPT STATUS COMMAND
// The single status mutation funnel. Coercion, legality, time stamping,
// the authority gate, the failure cascade, and vendor hooks all live here.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateAttemptStatusCommand requests a status transition on one attempt.
type UpdateAttemptStatusCommand struct {
	// AttemptID is the internal ID of the attempt to transition.
	AttemptID string

	// ToStatus is the requested destination status. It may be coerced
	// before legality runs (timed_out with the allowance disabled, and
	// reattempts of completed exams, both collapse to submitted).
	ToStatus attempt.Status

	// AllowMissing turns a missing attempt into a no-op instead of a
	// NotFound error. The timeout sweep sets this.
	AllowMissing bool

	// CascadeEffects enables the one-level failure cascade to sibling
	// proctored exams in the same course. Cascaded transitions always
	// run with this cleared.
	CascadeEffects bool

	// TimeoutAt is the computed expiry instant for timeout transitions.
	// When set, it is stamped as completed_at instead of wall-clock now.
	TimeoutAt *time.Time

	// AttributableTo records who or what triggered the transition.
	AttributableTo string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c UpdateAttemptStatusCommand) Validate() error {
	if c.AttemptID == "" {
		return errors.New("update_attempt_status: attempt_id must be provided")
	}
	if !c.ToStatus.IsValid() {
		return fmt.Errorf("update_attempt_status: unknown status %q", c.ToStatus)
	}
	return nil
}

// UpdateAttemptStatusResult reports what the transition did.
type UpdateAttemptStatusResult struct {
	// AttemptID is the transitioned attempt, empty when AllowMissing
	// swallowed a missing attempt.
	AttemptID string

	// FromStatus / ToStatus are the applied statuses. ToStatus reflects
	// coercion and may differ from the requested one.
	FromStatus attempt.Status
	ToStatus   attempt.Status

	// Applied is false when the attempt was missing and AllowMissing set.
	Applied bool

	// Authoritative reports whether this transition passed the authority
	// gate and pushed credit/grade/certificate/email side effects.
	Authoritative bool

	// CascadedAttemptIDs lists sibling attempts declined by the cascade.
	CascadedAttemptIDs []string
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// BackendRegistry resolves the proctoring provider for an exam.
type BackendRegistry interface {
	Resolve(e *exam.Exam) (backends.Provider, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateAttemptStatusHandler handles the UpdateAttemptStatusCommand.
type UpdateAttemptStatusHandler struct {
	attemptStore   attempt.Store
	examStore      exam.Store
	allowanceStore exam.AllowanceStore
	lifecycle      *attempt.Lifecycle
	creditService  credit.Service
	gradesService  credit.GradesService
	certificates   credit.CertificatesService
	emailSink      notification.Sink
	registry       BackendRegistry
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger

	sendStatusEmails    bool
	gradeOverridesOff   bool
	certInvalidationOff bool
}

// UpdateAttemptStatusConfig contains configuration for the handler.
type UpdateAttemptStatusConfig struct {
	// AllowTimedOutState keeps timed_out as a distinct terminal status.
	// When false, timeout transitions collapse to submitted.
	AllowTimedOutState bool

	// SendStatusEmails enables learner status emails.
	SendStatusEmails bool

	// DisableGradeOverrides skips zeroing subsection grades on penalized
	// rejections. Off means overrides apply.
	DisableGradeOverrides bool

	// DisableCertificateInvalidation skips voiding certificates on
	// penalized rejections.
	DisableCertificateInvalidation bool
}

// NewUpdateAttemptStatusHandler creates a new UpdateAttemptStatusHandler.
func NewUpdateAttemptStatusHandler(
	attemptStore attempt.Store,
	examStore exam.Store,
	allowanceStore exam.AllowanceStore,
	creditService credit.Service,
	gradesService credit.GradesService,
	certificates credit.CertificatesService,
	emailSink notification.Sink,
	registry BackendRegistry,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
	config UpdateAttemptStatusConfig,
) *UpdateAttemptStatusHandler {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &UpdateAttemptStatusHandler{
		attemptStore:     attemptStore,
		examStore:        examStore,
		allowanceStore:   allowanceStore,
		lifecycle:        attempt.NewLifecycle(config.AllowTimedOutState),
		creditService:    creditService,
		gradesService:    gradesService,
		certificates:     certificates,
		emailSink:        emailSink,
		registry:         registry,
		eventPublisher:   eventPublisher,
		clock:            clock,
		logger:           logger,
		sendStatusEmails: config.SendStatusEmails,

		gradeOverridesOff:   config.DisableGradeOverrides,
		certInvalidationOff: config.DisableCertificateInvalidation,
	}
}

// Handle executes the status transition.
func (h *UpdateAttemptStatusHandler) Handle(ctx context.Context, cmd UpdateAttemptStatusCommand) (*UpdateAttemptStatusResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// Lookup
	a, err := h.attemptStore.GetByID(ctx, cmd.AttemptID)
	if err != nil {
		if shared.IsNotFound(err) && cmd.AllowMissing {
			return &UpdateAttemptStatusResult{Applied: false}, nil
		}
		return nil, fmt.Errorf("update_attempt_status: %w", err)
	}

	e, err := h.examStore.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, fmt.Errorf("update_attempt_status: %w", err)
	}

	result, err := h.transition(ctx, a, e, cmd)
	if err != nil {
		// A concurrent writer bumped the version between read and write.
		// Re-read once and redo the transition against fresh state.
		if shared.IsOptimisticLock(err) {
			a, rerr := h.attemptStore.GetByID(ctx, cmd.AttemptID)
			if rerr != nil {
				return nil, fmt.Errorf("update_attempt_status: retry lookup: %w", rerr)
			}
			return h.transition(ctx, a, e, cmd)
		}
		return nil, err
	}
	return result, nil
}

// transition runs coercion, legality, apply, persist, and side effects
// against one snapshot of the attempt.
func (h *UpdateAttemptStatusHandler) transition(ctx context.Context, a *attempt.Attempt, e *exam.Exam, cmd UpdateAttemptStatusCommand) (*UpdateAttemptStatusResult, error) {
	now := h.clock.Now()

	// Coercion runs before legality: a coerced target is what gets checked.
	to := h.lifecycle.CoerceTarget(a, cmd.ToStatus)

	if err := h.lifecycle.CheckTransition(a, to); err != nil {
		return nil, err
	}

	applied := h.lifecycle.Apply(a, to, now, cmd.TimeoutAt)

	// First start computes the allowed time under allowances and due date.
	if applied.FirstStart {
		allowanceMins := 0
		if allowances, err := h.allowanceStore.ListForUserExam(ctx, a.ExamID, a.UserID); err == nil {
			allowanceMins = exam.AdditionalTimeMins(allowances)
		}
		a.AllowedTimeLimitMins = attempt.CalculateAllowedMins(e, allowanceMins, a, now)
	}

	if err := h.attemptStore.Update(ctx, a); err != nil {
		return nil, err
	}

	result := &UpdateAttemptStatusResult{
		AttemptID:  a.ID,
		FromStatus: applied.From,
		ToStatus:   to,
		Applied:    true,
	}

	// Authority gate over every attempt the learner ever made on this exam.
	all, err := h.attemptStore.ListForUserExam(ctx, a.ExamID, a.UserID)
	if err != nil {
		return nil, fmt.Errorf("update_attempt_status: list attempts: %w", err)
	}
	statuses := make([]attempt.Status, len(all))
	for i, other := range all {
		statuses[i] = other.Status
	}
	result.Authoritative = attempt.CanUpdateCreditGradesAndEmail(a.Status, statuses)

	// The transition is committed; side effects are best-effort from here.
	// A degraded LMS or mail relay must never lose the status truth.
	if result.Authoritative {
		h.applySideEffects(ctx, a, e, applied, cmd, result)
	}

	h.fireVendorHooks(ctx, a, e, applied)

	changed := shared.NewAttemptStatusChangedEvent(
		a.ID, a.AttemptCode, a.ExamID.String(), a.UserID.String(),
		applied.From.String(), to.String(), cmd.AttributableTo == attributedToCascade)
	changed.BaseEvent = changed.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	h.publish(changed)

	h.logger.Info("attempt status changed",
		"attempt_id", a.ID,
		"exam_id", a.ExamID.String(),
		"from", applied.From.String(),
		"to", to.String(),
		"authoritative", result.Authoritative,
		"attributed_to", cmd.AttributableTo)

	return result, nil
}

// attributedToCascade marks transitions issued by the failure cascade.
const attributedToCascade = "cascade"

// ─────────────────────────────────────────────────────────────────────────────
// Side effects (authoritative transitions only)
// ─────────────────────────────────────────────────────────────────────────────

func (h *UpdateAttemptStatusHandler) applySideEffects(ctx context.Context, a *attempt.Attempt, e *exam.Exam, applied attempt.Applied, cmd UpdateAttemptStatusCommand, result *UpdateAttemptStatusResult) {
	// Practice attempts never touch credit, grades, or certificates.
	if !a.IsSamplePractice {
		h.pushCreditStatus(ctx, a, e)
	}

	if cmd.CascadeEffects && a.Status.IsCascadableFailure() {
		h.cascadeFailure(ctx, a, e, cmd, result)
	}

	if !a.IsSamplePractice {
		h.applyGradeEffects(ctx, a, e, applied)
	}

	h.sendEmail(ctx, a, e)
}

// pushCreditStatus maps the attempt status to a credit requirement state
// and records it in the LMS.
func (h *UpdateAttemptStatusHandler) pushCreditStatus(ctx context.Context, a *attempt.Attempt, e *exam.Exam) {
	outcome, ok := a.Status.CreditOutcome()
	if !ok {
		return
	}

	err := h.creditService.SetRequirementStatus(ctx,
		e.CourseID.String(), a.UserID.String(),
		credit.NamespaceProctoredExam, e.ContentID.String(),
		credit.RequirementState(outcome))
	if err != nil {
		h.logger.Error("failed to push credit requirement status",
			"attempt_id", a.ID, "status", a.Status.String(), "error", err)
		return
	}
	h.publish(shared.NewSideEffectEvent(shared.EventCreditStatusPushed, a.ID))
}

// cascadeFailure strips proctoring from the failed attempt and declines
// every sibling proctored exam in the course. Cascaded transitions run
// with the cascade disabled, bounding the recursion to one level.
func (h *UpdateAttemptStatusHandler) cascadeFailure(ctx context.Context, a *attempt.Attempt, e *exam.Exam, cmd UpdateAttemptStatusCommand, result *UpdateAttemptStatusResult) {
	a.TakingAsProctored = false
	a.ExternalID = ""
	if err := h.attemptStore.Update(ctx, a); err != nil {
		h.logger.Error("failed to strip proctoring from failed attempt",
			"attempt_id", a.ID, "error", err)
	}

	siblings, err := h.examStore.ListForCourse(ctx, e.CourseID)
	if err != nil {
		h.logger.Error("failed to list sibling exams for cascade",
			"course_id", e.CourseID.String(), "error", err)
		return
	}

	for _, sibling := range siblings {
		if sibling.ID == e.ID || !sibling.IsCascadeTarget() {
			continue
		}

		target, err := h.cascadeTargetAttempt(ctx, sibling, a.UserID)
		if err != nil {
			h.logger.Error("failed to resolve cascade target attempt",
				"exam_id", sibling.ID.String(), "error", err)
			continue
		}
		if target == nil {
			// Sibling attempt already completed; the cascade skips it.
			continue
		}

		_, err = h.Handle(ctx, UpdateAttemptStatusCommand{
			AttemptID:      target.ID,
			ToStatus:       attempt.StatusDeclined,
			CascadeEffects: false,
			AttributableTo: attributedToCascade,
			CorrelationID:  cmd.CorrelationID,
		})
		if err != nil {
			h.logger.Error("failed to decline sibling attempt",
				"attempt_id", target.ID, "exam_id", sibling.ID.String(), "error", err)
			continue
		}
		result.CascadedAttemptIDs = append(result.CascadedAttemptIDs, target.ID)
	}
}

// cascadeTargetAttempt returns the sibling attempt to decline, creating
// one when the learner never attempted the exam. Returns nil when the
// existing attempt is already completed.
func (h *UpdateAttemptStatusHandler) cascadeTargetAttempt(ctx context.Context, e *exam.Exam, userID exam.UserID) (*attempt.Attempt, error) {
	current, err := h.attemptStore.GetCurrent(ctx, e.ID, userID)
	if err == nil {
		if current.Status.IsCompleted() {
			return nil, nil
		}
		return current, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	code, err := attempt.GenerateCode()
	if err != nil {
		return nil, err
	}

	now := h.clock.Now()
	created := &attempt.Attempt{
		ID:          shared.NewID(),
		ExamID:      e.ID,
		UserID:      userID,
		AttemptCode: code,
		Status:      attempt.StatusCreated,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.attemptStore.Create(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// applyGradeEffects zeroes the subsection grade on a penalized rejection
// and undoes the override when a later review verifies the attempt.
func (h *UpdateAttemptStatusHandler) applyGradeEffects(ctx context.Context, a *attempt.Attempt, e *exam.Exam, applied attempt.Applied) {
	courseID := e.CourseID.String()
	userID := a.UserID.String()
	contentID := e.ContentID.String()

	if a.Status.NeedsGradeOverride() {
		if !h.gradeOverridesOff {
			allowed, err := h.gradesService.ShouldOverrideGradeOnRejected(ctx, courseID)
			if err != nil {
				h.logger.Error("failed to read grade override policy",
					"course_id", courseID, "error", err)
				return
			}
			if !allowed {
				// Course policy says rejection carries no grade penalty,
				// so the certificate stays valid too.
				return
			}

			if err := h.gradesService.OverrideSubsectionGrade(ctx, courseID, userID, contentID, 0); err != nil {
				h.logger.Error("failed to override subsection grade",
					"attempt_id", a.ID, "error", err)
			} else {
				h.publish(shared.NewSideEffectEvent(shared.EventGradeOverridden, a.ID))
			}
		}

		if !h.certInvalidationOff {
			if err := h.certificates.InvalidateCertificate(ctx, courseID, userID); err != nil {
				h.logger.Error("failed to invalidate certificate",
					"attempt_id", a.ID, "error", err)
			} else {
				h.publish(shared.NewSideEffectEvent(shared.EventCertificateInvalidated, a.ID))
			}
		}
		return
	}

	if h.gradeOverridesOff {
		return
	}

	if a.Status == attempt.StatusVerified && applied.From.NeedsGradeOverride() {
		if err := h.gradesService.UndoOverrideSubsectionGrade(ctx, courseID, userID, contentID); err != nil {
			h.logger.Error("failed to undo grade override",
				"attempt_id", a.ID, "error", err)
		} else {
			h.publish(shared.NewSideEffectEvent(shared.EventGradeOverrideUndone, a.ID))
		}
	}
}

// sendEmail composes and delivers the learner status email, if one applies.
func (h *UpdateAttemptStatusHandler) sendEmail(ctx context.Context, a *attempt.Attempt, e *exam.Exam) {
	if !h.sendStatusEmails {
		return
	}
	email := notification.ComposeStatusEmail(e, a)
	if email == nil {
		return
	}
	if err := h.emailSink.Deliver(ctx, email); err != nil {
		h.logger.Error("failed to deliver status email",
			"attempt_id", a.ID, "status", a.Status.String(), "error", err)
		h.publish(shared.NewSideEffectEvent(shared.EventStatusEmailFailed, a.ID))
		return
	}
	h.publish(shared.NewSideEffectEvent(shared.EventStatusEmailSent, a.ID))
}

// ─────────────────────────────────────────────────────────────────────────────
// Vendor hooks
// ─────────────────────────────────────────────────────────────────────────────

// fireVendorHooks notifies the proctoring vendor on first entry into
// started, submitted, and error. Each hook fires at most once per attempt
// because the Applied flags are only set on first entry.
func (h *UpdateAttemptStatusHandler) fireVendorHooks(ctx context.Context, a *attempt.Attempt, e *exam.Exam, applied attempt.Applied) {
	if a.ExternalID == "" || (!applied.FirstStart && !applied.FirstSubmit && !applied.FirstError) {
		return
	}

	provider, err := h.registry.Resolve(e)
	if err != nil {
		h.logger.Error("failed to resolve backend for vendor hook",
			"attempt_id", a.ID, "error", err)
		return
	}

	switch {
	case applied.FirstStart:
		err = provider.StartExamAttempt(ctx, a.ExternalID)
	case applied.FirstSubmit:
		err = provider.StopExamAttempt(ctx, a.ExternalID)
	case applied.FirstError:
		err = provider.MarkErroneousExamAttempt(ctx, a.ExternalID)
	}
	if err != nil {
		h.logger.Error("vendor hook failed",
			"attempt_id", a.ID, "backend", provider.VerboseName(), "error", err)
	}
}

// publish sends an event, logging failures instead of propagating them.
func (h *UpdateAttemptStatusHandler) publish(event shared.Event) {
	if h.eventPublisher == nil || event == nil {
		return
	}
	if err := h.eventPublisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event", "type", string(event.EventType()), "error", err)
	}
}
