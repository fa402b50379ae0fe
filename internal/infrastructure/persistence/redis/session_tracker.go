package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TRACKER ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAttemptCodeEmpty is returned when the attempt code is empty.
	ErrAttemptCodeEmpty = errors.New("session_tracker: attempt code cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION INFO
// ══════════════════════════════════════════════════════════════════════════════

// SessionInfo describes one live proctored exam session: an attempt that
// entered started and has not reached a later status yet.
type SessionInfo struct {
	AttemptID   string `json:"attempt_id"`
	AttemptCode string `json:"attempt_code"`
	ExamID      string `json:"exam_id"`
	UserID      string `json:"user_id"`

	// StartedAt is when the attempt entered started.
	StartedAt time.Time `json:"started_at"`
}

// Elapsed returns how long the session has been running.
func (s *SessionInfo) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION EVENT (for Pub/Sub)
// ══════════════════════════════════════════════════════════════════════════════

// SessionEventType defines the type of session activity event.
type SessionEventType string

const (
	// SessionStarted is emitted when an attempt enters started.
	SessionStarted SessionEventType = "session_started"

	// SessionEnded is emitted when a tracked attempt leaves started.
	SessionEnded SessionEventType = "session_ended"
)

// SessionEvent is broadcast over Pub/Sub so review dashboards can update
// without polling.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	AttemptCode string           `json:"attempt_code"`
	ExamID      string           `json:"exam_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION TRACKER
// ══════════════════════════════════════════════════════════════════════════════

// SessionTracker maintains the set of live exam sessions in Redis for
// operational visibility. It is fed from attempt status change events;
// the attempt store stays the source of truth.
//
// Layout:
//   - Each session has a key "session:{attempt_code}" holding SessionInfo
//   - A sorted set "sessions:active" indexes sessions by start time
//   - Pub/Sub channel "pubsub:session_activity" broadcasts changes
type SessionTracker struct {
	cache *Cache
}

const (
	keySessionPrefix = "session:"
	keySessionsAll   = "sessions:active"

	channelSessionActivity = "pubsub:session_activity"

	// ttlSession caps how long a session entry can survive without the
	// end transition being observed. No exam runs this long; anything
	// older is debris from a crash.
	ttlSession = 24 * time.Hour
)

func sessionKey(attemptCode string) string {
	return keySessionPrefix + attemptCode
}

// NewSessionTracker creates a new SessionTracker.
func NewSessionTracker(cache *Cache) *SessionTracker {
	return &SessionTracker{cache: cache}
}

// ══════════════════════════════════════════════════════════════════════════════
// CORE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// MarkActive records a session as live. Called on the transition into
// started; calling it again for the same code just refreshes the entry.
func (t *SessionTracker) MarkActive(ctx context.Context, info SessionInfo) error {
	if info.AttemptCode == "" {
		return ErrAttemptCodeEmpty
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal session info: %w", err)
	}

	pipe := t.cache.Client().Pipeline()
	pipe.Set(ctx, sessionKey(info.AttemptCode), data, ttlSession)
	pipe.ZAdd(ctx, keySessionsAll, redis.Z{
		Score:  float64(info.StartedAt.Unix()),
		Member: info.AttemptCode,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark session active: %w", err)
	}

	t.publishEvent(ctx, SessionEvent{
		Type:        SessionStarted,
		AttemptCode: info.AttemptCode,
		ExamID:      info.ExamID,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// MarkInactive drops a session. Called on any transition out of started,
// including timeouts and staff removals. Unknown codes are a no-op.
func (t *SessionTracker) MarkInactive(ctx context.Context, attemptCode string) error {
	if attemptCode == "" {
		return ErrAttemptCodeEmpty
	}

	pipe := t.cache.Client().Pipeline()
	pipe.Del(ctx, sessionKey(attemptCode))
	pipe.ZRem(ctx, keySessionsAll, attemptCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark session inactive: %w", err)
	}

	t.publishEvent(ctx, SessionEvent{
		Type:        SessionEnded,
		AttemptCode: attemptCode,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns session info for one attempt code, or ErrCacheMiss.
func (t *SessionTracker) Get(ctx context.Context, attemptCode string) (*SessionInfo, error) {
	if attemptCode == "" {
		return nil, ErrAttemptCodeEmpty
	}

	data, err := t.cache.Client().Get(ctx, sessionKey(attemptCode)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session info: %w", err)
	}
	return &info, nil
}

// ListActive returns all live sessions ordered by start time, oldest
// first. Codes whose detail key already expired are skipped.
func (t *SessionTracker) ListActive(ctx context.Context) ([]SessionInfo, error) {
	codes, err := t.cache.Client().ZRange(ctx, keySessionsAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	if len(codes) == 0 {
		return []SessionInfo{}, nil
	}

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = sessionKey(code)
	}

	values, err := t.cache.Client().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([]SessionInfo, 0, len(codes))
	for _, val := range values {
		if val == nil {
			continue
		}
		var info SessionInfo
		if err := json.Unmarshal([]byte(val.(string)), &info); err != nil {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// CountActive returns the number of live sessions.
func (t *SessionTracker) CountActive(ctx context.Context) (int64, error) {
	return t.cache.Client().ZCard(ctx, keySessionsAll).Result()
}

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB
// ══════════════════════════════════════════════════════════════════════════════

// Subscribe creates a subscription to session activity events. The
// caller owns the returned PubSub and must Close it.
func (t *SessionTracker) Subscribe(ctx context.Context) *redis.PubSub {
	return t.cache.Client().Subscribe(ctx, channelSessionActivity)
}

// publishEvent broadcasts a session change. Fire and forget; the tracker
// never fails a transition over a dashboard notification.
func (t *SessionTracker) publishEvent(ctx context.Context, event SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = t.cache.Client().Publish(ctx, channelSessionActivity, data).Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// CleanupStale removes index entries whose sessions started longer ago
// than the session TTL. Detail keys expire on their own; this keeps the
// sorted set from accumulating debris after crashes.
func (t *SessionTracker) CleanupStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-ttlSession).Unix()

	removed, err := t.cache.Client().ZRemRangeByScore(ctx, keySessionsAll,
		"-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale sessions: %w", err)
	}
	return removed, nil
}
