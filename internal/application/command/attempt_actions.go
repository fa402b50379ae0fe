package command

import (
	"context"
	"fmt"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONVENIENCE WRAPPERS
// Named entry points over the status funnel for the common transitions.
// ══════════════════════════════════════════════════════════════════════════════

// AttemptActions exposes the named attempt operations. All of them
// delegate to the status funnel; none carries its own transition logic.
type AttemptActions struct {
	attemptStore  attempt.Store
	statusHandler *UpdateAttemptStatusHandler
}

// NewAttemptActions creates a new AttemptActions.
func NewAttemptActions(attemptStore attempt.Store, statusHandler *UpdateAttemptStatusHandler) *AttemptActions {
	return &AttemptActions{
		attemptStore:  attemptStore,
		statusHandler: statusHandler,
	}
}

// StartAttempt moves an attempt into started, stamping started_at and
// computing the allowed time on first entry.
func (s *AttemptActions) StartAttempt(ctx context.Context, attemptID, attributableTo string) error {
	return s.update(ctx, attemptID, attempt.StatusStarted, attributableTo, nil, true)
}

// StartAttemptByCode starts the attempt identified by its vendor-facing code.
func (s *AttemptActions) StartAttemptByCode(ctx context.Context, attemptCode, attributableTo string) (string, error) {
	a, err := s.attemptStore.GetByCode(ctx, attemptCode)
	if err != nil {
		return "", fmt.Errorf("start_exam_attempt: %w", err)
	}
	return a.ID, s.StartAttempt(ctx, a.ID, attributableTo)
}

// StopAttempt submits the attempt for review.
func (s *AttemptActions) StopAttempt(ctx context.Context, attemptID, attributableTo string) error {
	return s.update(ctx, attemptID, attempt.StatusReadyToSubmit, attributableTo, nil, true)
}

// SubmitAttempt finalizes the attempt into submitted.
func (s *AttemptActions) SubmitAttempt(ctx context.Context, attemptID, attributableTo string) error {
	return s.update(ctx, attemptID, attempt.StatusSubmitted, attributableTo, nil, true)
}

// TimeOutAttempt expires the attempt at the given instant. The funnel
// coerces timed_out to submitted when the timeout status is disabled.
func (s *AttemptActions) TimeOutAttempt(ctx context.Context, attemptID string, expiredAt time.Time) error {
	return s.update(ctx, attemptID, attempt.StatusTimedOut, "timeout", &expiredAt, true)
}

// MarkReadyToResume flags an errored attempt for resumption.
func (s *AttemptActions) MarkReadyToResume(ctx context.Context, attemptID, attributableTo string) error {
	return s.update(ctx, attemptID, attempt.StatusReadyToResume, attributableTo, nil, true)
}

// MarkError flags the attempt's proctoring session as broken.
func (s *AttemptActions) MarkError(ctx context.Context, attemptID, attributableTo string) error {
	return s.update(ctx, attemptID, attempt.StatusError, attributableTo, nil, true)
}

func (s *AttemptActions) update(ctx context.Context, attemptID string, to attempt.Status, attributableTo string, timeoutAt *time.Time, cascade bool) error {
	_, err := s.statusHandler.Handle(ctx, UpdateAttemptStatusCommand{
		AttemptID:      attemptID,
		ToStatus:       to,
		CascadeEffects: cascade,
		TimeoutAt:      timeoutAt,
		AttributableTo: attributableTo,
	})
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// ACKNOWLEDGE STATUS
// The single attempt field a learner may mutate directly.
// ══════════════════════════════════════════════════════════════════════════════

// AcknowledgeStatus records that the learner has seen a terminal status.
// Any other direct field mutation is refused.
func (s *AttemptActions) AcknowledgeStatus(ctx context.Context, attemptID string) error {
	a, err := s.attemptStore.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("acknowledge_status: %w", err)
	}
	if !a.Status.IsCompleted() {
		return shared.ErrAttemptFieldProtected
	}
	if a.IsStatusAcknowledged {
		return nil
	}
	a.IsStatusAcknowledged = true
	if err := s.attemptStore.Update(ctx, a); err != nil {
		return fmt.Errorf("acknowledge_status: %w", err)
	}
	return nil
}
