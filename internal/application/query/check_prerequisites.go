package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK PREREQUISITES QUERY
// Classifies the credit requirements standing before an exam. A declined
// prerequisite poisons the target: the learner's own attempt is created
// and declined through the status funnel, so the refusal is recorded the
// same way any other decline is.
// ══════════════════════════════════════════════════════════════════════════════

// CheckPrerequisitesQuery asks whether a learner may take an exam.
type CheckPrerequisitesQuery struct {
	// ExamID is the target exam.
	ExamID exam.ID

	// UserID is the learner.
	UserID exam.UserID
}

// Validate validates the query.
func (q CheckPrerequisitesQuery) Validate() error {
	if !q.ExamID.IsValid() {
		return errors.New("check_prerequisites: exam_id must be provided")
	}
	if !q.UserID.IsValid() {
		return errors.New("check_prerequisites: user_id must be provided")
	}
	return nil
}

// PrerequisiteDTO is one classified prerequisite.
type PrerequisiteDTO struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Order       int    `json:"order"`
	Status      string `json:"status"`
}

// PrerequisitesDTO is the evaluation result for the target exam.
type PrerequisitesDTO struct {
	// ─────────────────────────────────────────
	// Verdict
	// ─────────────────────────────────────────
	AreSatisfied bool `json:"are_satisfied"`

	// DeclinedAttemptID is set when a declined prerequisite forced the
	// learner's attempt on the target exam into declined.
	DeclinedAttemptID string `json:"declined_attempt_id,omitempty"`

	// ─────────────────────────────────────────
	// Classified prerequisites, declared order
	// ─────────────────────────────────────────
	Satisfied []PrerequisiteDTO `json:"satisfied"`
	Failed    []PrerequisiteDTO `json:"failed"`
	Pending   []PrerequisiteDTO `json:"pending"`
	Declined  []PrerequisiteDTO `json:"declined"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CheckPrerequisitesHandler handles the CheckPrerequisitesQuery.
type CheckPrerequisitesHandler struct {
	examStore     exam.Store
	attemptStore  attempt.Store
	creditService credit.Service
	createHandler *command.CreateExamAttemptHandler
	statusHandler *command.UpdateAttemptStatusHandler
	logger        *slog.Logger

	// excludedNamespaces are requirement namespaces that never gate exams,
	// e.g. the grade namespace.
	excludedNamespaces []string
}

// NewCheckPrerequisitesHandler creates a new handler.
func NewCheckPrerequisitesHandler(
	examStore exam.Store,
	attemptStore attempt.Store,
	creditService credit.Service,
	createHandler *command.CreateExamAttemptHandler,
	statusHandler *command.UpdateAttemptStatusHandler,
	logger *slog.Logger,
	excludedNamespaces []string,
) *CheckPrerequisitesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckPrerequisitesHandler{
		examStore:          examStore,
		attemptStore:       attemptStore,
		creditService:      creditService,
		createHandler:      createHandler,
		statusHandler:      statusHandler,
		logger:             logger,
		excludedNamespaces: excludedNamespaces,
	}
}

// Handle executes the query.
func (h *CheckPrerequisitesHandler) Handle(ctx context.Context, q CheckPrerequisitesQuery) (*PrerequisitesDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	e, err := h.examStore.GetByID(ctx, q.ExamID)
	if err != nil {
		return nil, fmt.Errorf("check_prerequisites: %w", err)
	}

	state, err := h.creditService.GetCreditState(ctx, e.CourseID.String(), q.UserID.String())
	if err != nil {
		return nil, fmt.Errorf("check_prerequisites: credit state: %w", err)
	}

	prereqs := credit.EvaluatePrerequisites(state.Requirements, e.ContentID.String(), h.excludedNamespaces)

	dto := &PrerequisitesDTO{
		AreSatisfied: prereqs.AreSatisfied(),
		Satisfied:    toDTOs(prereqs.Satisfied),
		Failed:       toDTOs(prereqs.Failed),
		Pending:      toDTOs(prereqs.Pending),
		Declined:     toDTOs(prereqs.Declined),
	}

	if len(prereqs.Declined) > 0 {
		attemptID, err := h.declineOwnAttempt(ctx, e, q.UserID)
		if err != nil {
			// The verdict stands even if recording the decline failed.
			h.logger.Error("failed to decline attempt on declined prerequisites",
				"exam_id", e.ID, "user_id", q.UserID, "error", err)
		} else {
			dto.DeclinedAttemptID = attemptID
		}
	}
	return dto, nil
}

// declineOwnAttempt records the learner's refusal on the target exam:
// an existing incomplete attempt is declined in place, a missing one is
// created first. Completed attempts are left alone.
func (h *CheckPrerequisitesHandler) declineOwnAttempt(ctx context.Context, e *exam.Exam, userID exam.UserID) (string, error) {
	current, err := h.attemptStore.GetCurrent(ctx, e.ID, userID)
	switch {
	case err == nil:
		if current.Status == attempt.StatusDeclined {
			return current.ID, nil
		}
		if current.Status.IsCompleted() {
			return "", nil
		}
	case shared.IsNotFound(err):
		created, createErr := h.createHandler.Handle(ctx, command.CreateExamAttemptCommand{
			ExamID: e.ID,
			UserID: userID,
		})
		if createErr != nil {
			return "", createErr
		}
		current, err = h.attemptStore.GetByID(ctx, created.AttemptID)
		if err != nil {
			return "", err
		}
	default:
		return "", err
	}

	_, err = h.statusHandler.Handle(ctx, command.UpdateAttemptStatusCommand{
		AttemptID:      current.ID,
		ToStatus:       attempt.StatusDeclined,
		AttributableTo: "prerequisites",
	})
	if err != nil {
		return "", err
	}
	return current.ID, nil
}

func toDTOs(statuses []credit.RequirementStatus) []PrerequisiteDTO {
	out := make([]PrerequisiteDTO, 0, len(statuses))
	for _, r := range statuses {
		out = append(out, PrerequisiteDTO{
			Namespace:   r.Namespace,
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Order:       r.Order,
			Status:      string(r.Status),
		})
	}
	return out
}
