// Package eventhandler contains domain event handlers. They are the
// reactive side of the system: commands persist state and emit events,
// handlers here keep the read side (caches, projections) in step.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ATTEMPT STATUS CHANGED HANDLER
// Drops the cached status summary whenever an attempt transitions, so a
// polling client never sees a stale status for longer than one round trip.
// Also handles attempt.removed for the same reason.
// ═══════════════════════════════════════════════════════════════════════════

// SummaryInvalidator drops one cached attempt summary.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, attemptCode string) error
}

// OnAttemptStatusChangedHandler invalidates the summary cache on attempt
// lifecycle events.
type OnAttemptStatusChangedHandler struct {
	cache   SummaryInvalidator
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnAttemptStatusChangedHandler creates a new handler.
func NewOnAttemptStatusChangedHandler(cache SummaryInvalidator, logger *slog.Logger) *OnAttemptStatusChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnAttemptStatusChangedHandler{
		cache:   cache,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Handle processes an attempt lifecycle event. Registered for
// attempt.status_changed and attempt.removed.
func (h *OnAttemptStatusChangedHandler) Handle(event shared.Event) error {
	code := attemptCodeOf(event)
	if code == "" {
		// Nothing cached under an unknown code; not an error.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, code); err != nil {
		h.logger.Warn("failed to invalidate attempt summary",
			"attempt_code", code,
			"event_type", event.EventType(),
			"error", err)
		return fmt.Errorf("invalidate summary for %s: %w", code, err)
	}

	h.logger.Debug("attempt summary invalidated",
		"attempt_code", code,
		"event_type", event.EventType())
	return nil
}

// attemptCodeOf extracts the attempt code from any lifecycle event that
// carries one.
func attemptCodeOf(event shared.Event) string {
	switch e := event.(type) {
	case *shared.AttemptStatusChangedEvent:
		return e.AttemptCode
	case *shared.AttemptRemovedEvent:
		return e.AttemptCode
	}
	if code, ok := event.Payload()["attempt_code"].(string); ok {
		return code
	}
	return ""
}
