package eventhandler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statusChanged(code, from, to string) *shared.AttemptStatusChangedEvent {
	return shared.NewAttemptStatusChangedEvent(
		"attempt-1", code, "exam-1", "user-1", from, to, false)
}

// ─────────────────────────────────────────────────────────────────────────────
// Summary invalidation
// ─────────────────────────────────────────────────────────────────────────────

type recordingInvalidator struct {
	invalidated []string
	err         error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, attemptCode string) error {
	if r.err != nil {
		return r.err
	}
	r.invalidated = append(r.invalidated, attemptCode)
	return nil
}

func TestStatusChangeInvalidatesSummary(t *testing.T) {
	cache := &recordingInvalidator{}
	h := NewOnAttemptStatusChangedHandler(cache, discardLogger())

	err := h.Handle(statusChanged("code-1", "started", "submitted"))
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1"}, cache.invalidated)
}

func TestRemovalInvalidatesSummary(t *testing.T) {
	cache := &recordingInvalidator{}
	h := NewOnAttemptStatusChangedHandler(cache, discardLogger())

	err := h.Handle(shared.NewAttemptRemovedEvent("attempt-1", "code-1", "exam-1", "user-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1"}, cache.invalidated)
}

func TestMissingAttemptCodeIsIgnored(t *testing.T) {
	cache := &recordingInvalidator{}
	h := NewOnAttemptStatusChangedHandler(cache, discardLogger())

	err := h.Handle(statusChanged("", "started", "submitted"))
	require.NoError(t, err)
	assert.Empty(t, cache.invalidated)
}

func TestInvalidationFailurePropagatesForRetry(t *testing.T) {
	cache := &recordingInvalidator{err: errors.New("redis down")}
	h := NewOnAttemptStatusChangedHandler(cache, discardLogger())

	err := h.Handle(statusChanged("code-1", "started", "submitted"))
	assert.Error(t, err, "the dispatcher retries failed invalidations")
}

// ─────────────────────────────────────────────────────────────────────────────
// Live-session index
// ─────────────────────────────────────────────────────────────────────────────

type recordingSessionIndex struct {
	active   []LiveSession
	inactive []string
}

func (r *recordingSessionIndex) MarkActive(_ context.Context, s LiveSession) error {
	r.active = append(r.active, s)
	return nil
}

func (r *recordingSessionIndex) MarkInactive(_ context.Context, attemptCode string) error {
	r.inactive = append(r.inactive, attemptCode)
	return nil
}

func TestTransitionIntoStartedRegistersSession(t *testing.T) {
	index := &recordingSessionIndex{}
	h := NewOnSessionActivityHandler(index, discardLogger())

	event := statusChanged("code-1", attempt.StatusReadyToStart.String(), attempt.StatusStarted.String())
	require.NoError(t, h.Handle(event))

	require.Len(t, index.active, 1)
	s := index.active[0]
	assert.Equal(t, "attempt-1", s.AttemptID)
	assert.Equal(t, "code-1", s.AttemptCode)
	assert.Equal(t, "exam-1", s.ExamID)
	assert.Equal(t, event.OccurredAt(), s.StartedAt)
	assert.Empty(t, index.inactive)
}

func TestTransitionOutOfStartedDropsSession(t *testing.T) {
	index := &recordingSessionIndex{}
	h := NewOnSessionActivityHandler(index, discardLogger())

	event := statusChanged("code-1", attempt.StatusStarted.String(), attempt.StatusSubmitted.String())
	require.NoError(t, h.Handle(event))

	assert.Empty(t, index.active)
	assert.Equal(t, []string{"code-1"}, index.inactive)
}

func TestUnrelatedTransitionTouchesNothing(t *testing.T) {
	index := &recordingSessionIndex{}
	h := NewOnSessionActivityHandler(index, discardLogger())

	event := statusChanged("code-1", attempt.StatusSubmitted.String(), attempt.StatusVerified.String())
	require.NoError(t, h.Handle(event))

	assert.Empty(t, index.active)
	assert.Empty(t, index.inactive)
}

func TestRemovalDropsSession(t *testing.T) {
	index := &recordingSessionIndex{}
	h := NewOnSessionActivityHandler(index, discardLogger())

	err := h.Handle(shared.NewAttemptRemovedEvent("attempt-1", "code-1", "exam-1", "user-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"code-1"}, index.inactive)
}
