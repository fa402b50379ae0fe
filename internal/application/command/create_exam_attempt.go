package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE EXAM ATTEMPT COMMAND
// Opens the learner's attempt slot on an exam: resume handling, vendor
// registration, and the forced onboarding statuses all happen here.
// ══════════════════════════════════════════════════════════════════════════════

// CreateExamAttemptCommand requests a new attempt for (exam, user).
type CreateExamAttemptCommand struct {
	// ExamID is the exam to attempt.
	ExamID exam.ID

	// UserID is the learner.
	UserID exam.UserID

	// TakingAsProctored requests the proctored path; the vendor is only
	// involved when set.
	TakingAsProctored bool

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c CreateExamAttemptCommand) Validate() error {
	if !c.ExamID.IsValid() {
		return errors.New("create_exam_attempt: exam_id must be provided")
	}
	if !c.UserID.IsValid() {
		return errors.New("create_exam_attempt: user_id must be provided")
	}
	return nil
}

// CreateExamAttemptResult reports the created attempt.
type CreateExamAttemptResult struct {
	// AttemptID is the new attempt's internal ID.
	AttemptID string

	// AttemptCode is the vendor-facing attempt code.
	AttemptCode string

	// Status is the status the attempt was created in. Usually created;
	// an onboarding remediation status when the vendor refused the
	// learner's onboarding profile.
	Status attempt.Status

	// ResumedFrom is the ID of the errored attempt whose remaining time
	// was carried forward, empty when no resume happened.
	ResumedFrom string
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateExamAttemptHandler handles the CreateExamAttemptCommand.
type CreateExamAttemptHandler struct {
	attemptStore   attempt.Store
	examStore      exam.Store
	policyStore    exam.ReviewPolicyStore
	allowanceStore exam.AllowanceStore
	statusHandler  *UpdateAttemptStatusHandler
	registry       BackendRegistry
	eventPublisher shared.EventPublisher
	clock          timeutil.Clock
	logger         *slog.Logger

	obscureSecret []byte
}

// NewCreateExamAttemptHandler creates a new CreateExamAttemptHandler.
func NewCreateExamAttemptHandler(
	attemptStore attempt.Store,
	examStore exam.Store,
	policyStore exam.ReviewPolicyStore,
	allowanceStore exam.AllowanceStore,
	statusHandler *UpdateAttemptStatusHandler,
	registry BackendRegistry,
	eventPublisher shared.EventPublisher,
	clock timeutil.Clock,
	logger *slog.Logger,
	obscureSecret []byte,
) *CreateExamAttemptHandler {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CreateExamAttemptHandler{
		attemptStore:   attemptStore,
		examStore:      examStore,
		policyStore:    policyStore,
		allowanceStore: allowanceStore,
		statusHandler:  statusHandler,
		registry:       registry,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         logger,
		obscureSecret:  obscureSecret,
	}
}

// Handle executes the create exam attempt command.
func (h *CreateExamAttemptHandler) Handle(ctx context.Context, cmd CreateExamAttemptCommand) (*CreateExamAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	e, err := h.examStore.GetByID(ctx, cmd.ExamID)
	if err != nil {
		return nil, fmt.Errorf("create_exam_attempt: %w", err)
	}

	now := h.clock.Now()

	// A passed due date closes the proctored path entirely.
	if cmd.TakingAsProctored && e.IsDuePassed(now) {
		return nil, shared.ErrPastDueProctoredExam
	}

	// Resolve the current attempt slot: resume, allow (practice), or refuse.
	var timeRemainingSecs *int
	var resumedFrom string
	current, err := h.attemptStore.GetCurrent(ctx, cmd.ExamID, cmd.UserID)
	switch {
	case err == nil:
		switch {
		case current.Status.IsResumeStatus():
			// Carry the unused time forward and retire the old attempt.
			remaining := h.remainingSeconds(current, now)
			timeRemainingSecs = &remaining
			resumedFrom = current.ID
			_, err := h.statusHandler.Handle(ctx, UpdateAttemptStatusCommand{
				AttemptID:      current.ID,
				ToStatus:       attempt.StatusResumed,
				AttributableTo: cmd.UserID.String(),
				CorrelationID:  cmd.CorrelationID,
			})
			if err != nil {
				return nil, fmt.Errorf("create_exam_attempt: retire resumable attempt: %w", err)
			}
		case e.IsPracticeExam || current.IsSamplePractice:
			// Practice exams allow repeated attempts.
		default:
			return nil, shared.ErrAttemptAlreadyExists
		}
	case shared.IsNotFound(err):
		// Empty slot.
	default:
		return nil, fmt.Errorf("create_exam_attempt: %w", err)
	}

	code, err := attempt.GenerateCode()
	if err != nil {
		return nil, fmt.Errorf("create_exam_attempt: generate code: %w", err)
	}

	a := &attempt.Attempt{
		ID:                   shared.NewID(),
		ExamID:               cmd.ExamID,
		UserID:               cmd.UserID,
		AttemptCode:          code,
		Status:               attempt.StatusCreated,
		TimeRemainingSeconds: timeRemainingSecs,
		TakingAsProctored:    cmd.TakingAsProctored,
		IsSamplePractice:     e.IsPracticeExam,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if cmd.TakingAsProctored {
		if err := h.registerWithVendor(ctx, e, a, now); err != nil {
			return nil, err
		}
	}

	if err := h.attemptStore.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create_exam_attempt: %w", err)
	}

	event := shared.NewAttemptCreatedEvent(
		a.ID, a.ExamID.String(), a.UserID.String(), a.AttemptCode,
		a.Status.String(), a.TakingAsProctored, resumedFrom != "")
	event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	if h.eventPublisher != nil {
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish attempt created event", "attempt_id", a.ID, "error", err)
		}
	}

	h.logger.Info("exam attempt created",
		"attempt_id", a.ID,
		"exam_id", a.ExamID.String(),
		"user_id", a.UserID.String(),
		"status", a.Status.String(),
		"proctored", a.TakingAsProctored,
		"resumed", resumedFrom != "")

	return &CreateExamAttemptResult{
		AttemptID:   a.ID,
		AttemptCode: a.AttemptCode,
		Status:      a.Status,
		ResumedFrom: resumedFrom,
	}, nil
}

// remainingSeconds computes the unused time on a resumable attempt. An
// attempt that never started keeps its full allowance unset; zero floors
// apply once the clock ran out.
func (h *CreateExamAttemptHandler) remainingSeconds(current *attempt.Attempt, now time.Time) int {
	if current.TimeRemainingSeconds != nil {
		return *current.TimeRemainingSeconds
	}
	expiresAt, ok := current.ExpiresAt()
	if !ok {
		return current.AllowedTimeLimitMins * 60
	}
	remaining := int(expiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// registerWithVendor opens the vendor session and fills in the external
// ID and review policy, or parks the attempt in a forced onboarding
// status when the vendor refuses the learner's profile.
func (h *CreateExamAttemptHandler) registerWithVendor(ctx context.Context, e *exam.Exam, a *attempt.Attempt, now time.Time) error {
	provider, err := h.registry.Resolve(e)
	if err != nil {
		return fmt.Errorf("create_exam_attempt: %w", err)
	}

	allowanceMins := 0
	reviewException := ""
	if allowances, err := h.allowanceStore.ListForUserExam(ctx, e.ID, a.UserID); err == nil {
		allowanceMins = exam.AdditionalTimeMins(allowances)
		reviewException, _ = exam.ReviewPolicyException(allowances)
	}

	reviewPolicy := reviewException
	if reviewPolicy == "" {
		if policy, err := h.policyStore.GetForExam(ctx, e.ID); err == nil {
			reviewPolicy = policy.Policy
			a.ReviewPolicyID = policy.ID
		}
	}

	obscured, err := backends.ObscuredUserID(a.UserID, h.obscureSecret)
	if err != nil {
		return fmt.Errorf("create_exam_attempt: %w", err)
	}

	result, err := provider.RegisterExamAttempt(ctx, backends.RegistrationRequest{
		AttemptCode:   a.AttemptCode,
		ObscuredUser:  obscured,
		ExamName:      e.ExamName,
		CourseID:      e.CourseID.String(),
		ContentID:     e.ContentID.String(),
		TimeLimitMins: attempt.CalculateAllowedMins(e, allowanceMins, a, now),
		ReviewPolicy:  reviewPolicy,
		IsPractice:    e.IsPracticeExam,
	})
	if err != nil {
		// Onboarding refusals park the attempt instead of failing creation.
		var obErr *backends.OnboardingError
		if errors.As(err, &obErr) {
			h.logger.Info("vendor refused onboarding profile, forcing remediation status",
				"attempt_code", a.AttemptCode, "forced_status", obErr.ForcedStatus.String())
			a.Status = obErr.ForcedStatus
			return nil
		}
		return fmt.Errorf("create_exam_attempt: %w", err)
	}

	if result.ExternalID == "" {
		return shared.ErrBackendEmptyID
	}

	a.ExternalID = result.ExternalID
	return nil
}
