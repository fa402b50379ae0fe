package service

import (
	"context"

	"github.com/proctorhub/proctoring-service/internal/application/eventhandler"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/persistence/redis"
)

// SessionTrackerAdapter adapts the redis.SessionTracker to the
// eventhandler.SessionIndex interface.
type SessionTrackerAdapter struct {
	tracker *redis.SessionTracker
}

var _ eventhandler.SessionIndex = (*SessionTrackerAdapter)(nil)

func NewSessionTrackerAdapter(tracker *redis.SessionTracker) *SessionTrackerAdapter {
	return &SessionTrackerAdapter{tracker: tracker}
}

func (a *SessionTrackerAdapter) MarkActive(ctx context.Context, s eventhandler.LiveSession) error {
	return a.tracker.MarkActive(ctx, redis.SessionInfo{
		AttemptID:   s.AttemptID,
		AttemptCode: s.AttemptCode,
		ExamID:      s.ExamID,
		UserID:      s.UserID,
		StartedAt:   s.StartedAt,
	})
}

func (a *SessionTrackerAdapter) MarkInactive(ctx context.Context, attemptCode string) error {
	return a.tracker.MarkInactive(ctx, attemptCode)
}
