package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SESSION ACTIVITY HANDLER
// Keeps the live-session index in step with attempt transitions: a move
// into started registers the session, a move out of it (or a removal)
// drops it. Review staff read the index to see who is in an exam right
// now without scanning the attempts table.
// ═══════════════════════════════════════════════════════════════════════════

// LiveSession describes one running exam session.
type LiveSession struct {
	AttemptID   string
	AttemptCode string
	ExamID      string
	UserID      string
	StartedAt   time.Time
}

// SessionIndex is the live-session view the handler maintains.
type SessionIndex interface {
	MarkActive(ctx context.Context, s LiveSession) error
	MarkInactive(ctx context.Context, attemptCode string) error
}

// OnSessionActivityHandler projects attempt lifecycle events onto the
// live-session index.
type OnSessionActivityHandler struct {
	sessions SessionIndex
	logger   *slog.Logger
	timeout  time.Duration
}

// NewOnSessionActivityHandler creates a new handler.
func NewOnSessionActivityHandler(sessions SessionIndex, logger *slog.Logger) *OnSessionActivityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnSessionActivityHandler{
		sessions: sessions,
		logger:   logger,
		timeout:  5 * time.Second,
	}
}

// Handle processes an attempt lifecycle event. Registered for
// attempt.status_changed and attempt.removed.
func (h *OnSessionActivityHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	switch e := event.(type) {
	case *shared.AttemptStatusChangedEvent:
		return h.handleStatusChange(ctx, e)
	case *shared.AttemptRemovedEvent:
		if e.AttemptCode == "" {
			return nil
		}
		return h.markInactive(ctx, e.AttemptCode, event)
	}
	return nil
}

func (h *OnSessionActivityHandler) handleStatusChange(ctx context.Context, e *shared.AttemptStatusChangedEvent) error {
	if e.AttemptCode == "" {
		return nil
	}

	if attempt.Status(e.ToStatus) == attempt.StatusStarted {
		s := LiveSession{
			AttemptID:   e.AggregateID(),
			AttemptCode: e.AttemptCode,
			ExamID:      e.ExamID,
			UserID:      e.UserID,
			StartedAt:   e.OccurredAt(),
		}
		if err := h.sessions.MarkActive(ctx, s); err != nil {
			h.logger.Warn("failed to register live session",
				"attempt_code", e.AttemptCode, "error", err)
			return fmt.Errorf("register session for %s: %w", e.AttemptCode, err)
		}
		return nil
	}

	// Any transition that is not into started ends whatever session was
	// tracked under the code. MarkInactive is a no-op for unknown codes.
	if attempt.Status(e.FromStatus) == attempt.StatusStarted {
		return h.markInactive(ctx, e.AttemptCode, e)
	}
	return nil
}

func (h *OnSessionActivityHandler) markInactive(ctx context.Context, code string, event shared.Event) error {
	if err := h.sessions.MarkInactive(ctx, code); err != nil {
		h.logger.Warn("failed to drop live session",
			"attempt_code", code,
			"event_type", event.EventType(),
			"error", err)
		return fmt.Errorf("drop session for %s: %w", code, err)
	}
	return nil
}
