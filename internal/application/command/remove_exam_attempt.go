package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE EXAM ATTEMPT COMMAND
// Hard deletion for staff tooling. Undoes the attempt's downstream marks
// (grade override, credit requirement status) before dropping the row.
// ══════════════════════════════════════════════════════════════════════════════

// RemoveExamAttemptCommand requests hard deletion of one attempt.
type RemoveExamAttemptCommand struct {
	// AttemptID is the attempt to remove.
	AttemptID string

	// RequestedBy records the staff member performing the removal.
	RequestedBy string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RemoveExamAttemptCommand) Validate() error {
	if c.AttemptID == "" {
		return errors.New("remove_exam_attempt: attempt_id must be provided")
	}
	return nil
}

// RemoveExamAttemptHandler handles the RemoveExamAttemptCommand.
type RemoveExamAttemptHandler struct {
	attemptStore   attempt.Store
	examStore      exam.Store
	creditService  credit.Service
	gradesService  credit.GradesService
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewRemoveExamAttemptHandler creates a new RemoveExamAttemptHandler.
func NewRemoveExamAttemptHandler(
	attemptStore attempt.Store,
	examStore exam.Store,
	creditService credit.Service,
	gradesService credit.GradesService,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *RemoveExamAttemptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoveExamAttemptHandler{
		attemptStore:   attemptStore,
		examStore:      examStore,
		creditService:  creditService,
		gradesService:  gradesService,
		eventPublisher: eventPublisher,
		logger:         logger,
	}
}

// Handle executes the removal. The undo steps run before the delete so a
// failed delete leaves the learner no worse off than before.
func (h *RemoveExamAttemptHandler) Handle(ctx context.Context, cmd RemoveExamAttemptCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	a, err := h.attemptStore.GetByID(ctx, cmd.AttemptID)
	if err != nil {
		return fmt.Errorf("remove_exam_attempt: %w", err)
	}

	e, err := h.examStore.GetByID(ctx, a.ExamID)
	if err != nil {
		return fmt.Errorf("remove_exam_attempt: %w", err)
	}

	courseID := e.CourseID.String()
	userID := a.UserID.String()

	// A standing rejection may have zeroed the subsection grade.
	if a.Status.NeedsGradeOverride() {
		if err := h.gradesService.UndoOverrideSubsectionGrade(ctx, courseID, userID, e.ContentID.String()); err != nil {
			h.logger.Error("failed to undo grade override during removal",
				"attempt_id", a.ID, "error", err)
		}
	}

	if !a.IsSamplePractice {
		if err := h.creditService.RemoveRequirementStatus(ctx, courseID, userID,
			credit.NamespaceProctoredExam, e.ContentID.String()); err != nil {
			h.logger.Error("failed to remove credit requirement status during removal",
				"attempt_id", a.ID, "error", err)
		}
	}

	if err := h.attemptStore.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("remove_exam_attempt: %w", err)
	}

	if h.eventPublisher != nil {
		event := shared.NewAttemptRemovedEvent(a.ID, a.AttemptCode, a.ExamID.String(), userID)
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish attempt removed event", "attempt_id", a.ID, "error", err)
		}
	}

	h.logger.Info("exam attempt removed",
		"attempt_id", a.ID,
		"exam_id", a.ExamID.String(),
		"requested_by", cmd.RequestedBy)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESET PRACTICE EXAM COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ResetPracticeExamCommand wipes a learner's attempts on a practice exam.
type ResetPracticeExamCommand struct {
	ExamID exam.ID
	UserID exam.UserID

	// RequestedBy records who asked for the reset.
	RequestedBy string
}

// Validate validates the command.
func (c ResetPracticeExamCommand) Validate() error {
	if !c.ExamID.IsValid() {
		return errors.New("reset_practice_exam: exam_id must be provided")
	}
	if !c.UserID.IsValid() {
		return errors.New("reset_practice_exam: user_id must be provided")
	}
	return nil
}

// ResetPracticeExamHandler handles the ResetPracticeExamCommand.
type ResetPracticeExamHandler struct {
	attemptStore attempt.Store
	examStore    exam.Store
	logger       *slog.Logger
}

// NewResetPracticeExamHandler creates a new ResetPracticeExamHandler.
func NewResetPracticeExamHandler(attemptStore attempt.Store, examStore exam.Store, logger *slog.Logger) *ResetPracticeExamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetPracticeExamHandler{
		attemptStore: attemptStore,
		examStore:    examStore,
		logger:       logger,
	}
}

// Handle deletes every attempt the learner made on the practice exam.
// Refuses non-practice exams: real attempt history is never bulk-wiped.
func (h *ResetPracticeExamHandler) Handle(ctx context.Context, cmd ResetPracticeExamCommand) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}

	e, err := h.examStore.GetByID(ctx, cmd.ExamID)
	if err != nil {
		return 0, fmt.Errorf("reset_practice_exam: %w", err)
	}
	if !e.IsPracticeExam {
		return 0, shared.ErrExamNotPractice
	}

	attempts, err := h.attemptStore.ListForUserExam(ctx, cmd.ExamID, cmd.UserID)
	if err != nil {
		return 0, fmt.Errorf("reset_practice_exam: %w", err)
	}

	removed := 0
	for _, a := range attempts {
		if err := h.attemptStore.Delete(ctx, a.ID); err != nil {
			h.logger.Error("failed to delete practice attempt",
				"attempt_id", a.ID, "error", err)
			continue
		}
		removed++
	}

	h.logger.Info("practice exam reset",
		"exam_id", cmd.ExamID.String(),
		"user_id", cmd.UserID.String(),
		"removed", removed,
		"requested_by", cmd.RequestedBy)
	return removed, nil
}
