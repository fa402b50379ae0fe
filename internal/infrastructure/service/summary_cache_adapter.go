package service

import (
	"context"

	"github.com/proctorhub/proctoring-service/internal/application/query"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/persistence/redis"
)

// SummaryCacheAdapter adapts the redis.SummaryCache to the query.SummaryCache
// interface, converting between the cache DTO and the query projection.
type SummaryCacheAdapter struct {
	cache *redis.SummaryCache
}

var _ query.SummaryCache = (*SummaryCacheAdapter)(nil)

func NewSummaryCacheAdapter(cache *redis.SummaryCache) *SummaryCacheAdapter {
	return &SummaryCacheAdapter{cache: cache}
}

func (a *SummaryCacheAdapter) Get(ctx context.Context, attemptCode string) (*query.AttemptStatusSummary, error) {
	cached, err := a.cache.Get(ctx, attemptCode)
	if err != nil || cached == nil {
		return nil, err
	}
	return &query.AttemptStatusSummary{
		AttemptID:            cached.AttemptID,
		AttemptCode:          cached.AttemptCode,
		Status:               cached.Status,
		StartedAt:            cached.StartedAt,
		CompletedAt:          cached.CompletedAt,
		AllowedTimeLimitMins: cached.AllowedTimeLimitMins,
		TimeRemainingSecs:    cached.TimeRemainingSecs,
		IsStatusAcknowledged: cached.IsStatusAcknowledged,
		IsResumable:          cached.IsResumable,
		BlockExamMaterial:    cached.BlockExamMaterial,
	}, nil
}

func (a *SummaryCacheAdapter) Set(ctx context.Context, summary *query.AttemptStatusSummary) error {
	if summary == nil {
		return nil
	}
	return a.cache.Set(ctx, &redis.AttemptSummary{
		AttemptID:            summary.AttemptID,
		AttemptCode:          summary.AttemptCode,
		Status:               summary.Status,
		StartedAt:            summary.StartedAt,
		CompletedAt:          summary.CompletedAt,
		AllowedTimeLimitMins: summary.AllowedTimeLimitMins,
		TimeRemainingSecs:    summary.TimeRemainingSecs,
		IsStatusAcknowledged: summary.IsStatusAcknowledged,
		IsResumable:          summary.IsResumable,
		BlockExamMaterial:    summary.BlockExamMaterial,
	})
}

func (a *SummaryCacheAdapter) Invalidate(ctx context.Context, attemptCode string) error {
	return a.cache.Invalidate(ctx, attemptCode)
}
