package redis

import (
	"context"
	"errors"
	"time"
)

// AttemptSummary is the cached projection of an attempt's status that
// exam-taking clients poll. It mirrors query.AttemptStatusSummary; the
// cache stores it as JSON under the attempt code.
type AttemptSummary struct {
	AttemptID            string     `json:"attempt_id"`
	AttemptCode          string     `json:"attempt_code"`
	Status               string     `json:"status"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	AllowedTimeLimitMins int        `json:"allowed_time_limit_mins"`
	TimeRemainingSecs    int        `json:"time_remaining_secs"`
	IsStatusAcknowledged bool       `json:"is_status_acknowledged"`
	IsResumable          bool       `json:"is_resumable"`
	BlockExamMaterial    bool       `json:"block_exam_material"`
	CachedAt             time.Time  `json:"cached_at"`
}

// SummaryCache caches attempt status summaries keyed by attempt code.
type SummaryCache struct {
	cache *Cache
}

// NewSummaryCache creates a new SummaryCache.
func NewSummaryCache(cache *Cache) *SummaryCache {
	return &SummaryCache{cache: cache}
}

// Get returns the cached summary for an attempt code.
// Returns (nil, nil) on cache miss so callers fall through to the store.
func (s *SummaryCache) Get(ctx context.Context, attemptCode string) (*AttemptSummary, error) {
	var summary AttemptSummary
	err := s.cache.Get(ctx, SummaryKey(attemptCode), &summary)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// Set caches a summary under its attempt code.
func (s *SummaryCache) Set(ctx context.Context, summary *AttemptSummary) error {
	if summary == nil {
		return nil
	}
	summary.CachedAt = time.Now().UTC()
	return s.cache.Set(ctx, SummaryKey(summary.AttemptCode), summary, TTLSummaryCache)
}

// Invalidate drops the cached summary for an attempt code. Called from
// the status-changed event handler so polls never read a stale status
// for longer than one round trip.
func (s *SummaryCache) Invalidate(ctx context.Context, attemptCode string) error {
	return s.cache.Delete(ctx, SummaryKey(attemptCode))
}
