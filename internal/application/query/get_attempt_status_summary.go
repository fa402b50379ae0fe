// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ATTEMPT STATUS SUMMARY QUERY
// The poll endpoint exam-taking clients hit every few seconds. Served from
// the Redis summary cache when warm; optionally runs the inline timeout
// check for deployments without the sweep job.
// ══════════════════════════════════════════════════════════════════════════════

// GetAttemptStatusSummaryQuery requests the status summary for one attempt.
type GetAttemptStatusSummaryQuery struct {
	// AttemptCode identifies the attempt; clients never hold internal IDs.
	AttemptCode string
}

// Validate validates the query.
func (q GetAttemptStatusSummaryQuery) Validate() error {
	if q.AttemptCode == "" {
		return errors.New("get_attempt_status_summary: attempt_code must be provided")
	}
	return nil
}

// AttemptStatusSummary is the client-facing projection of an attempt.
type AttemptStatusSummary struct {
	AttemptID            string     `json:"attempt_id"`
	AttemptCode          string     `json:"attempt_code"`
	Status               string     `json:"status"`
	StatusDescription    string     `json:"status_description"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	AllowedTimeLimitMins int        `json:"allowed_time_limit_mins"`
	TimeRemainingSecs    int        `json:"time_remaining_secs"`
	CanStart             bool       `json:"can_start"`
	IsStatusAcknowledged bool       `json:"is_status_acknowledged"`
	IsResumable          bool       `json:"is_resumable"`
	BlockExamMaterial    bool       `json:"block_exam_material"`
	PingIntervalSecs     int        `json:"ping_interval_secs"`
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// SummaryCache caches summaries keyed by attempt code. A nil, nil return
// from Get is a cache miss.
type SummaryCache interface {
	Get(ctx context.Context, attemptCode string) (*AttemptStatusSummary, error)
	Set(ctx context.Context, summary *AttemptStatusSummary) error
	Invalidate(ctx context.Context, attemptCode string) error
}

// BackendGate exposes the per-backend client hints the summary carries.
// Implemented by the backend registry.
type BackendGate interface {
	ShouldBlockAccessToExamMaterial(e *exam.Exam) bool
	PingIntervalSecs(e *exam.Exam) int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetAttemptStatusSummaryHandler handles the GetAttemptStatusSummaryQuery.
type GetAttemptStatusSummaryHandler struct {
	attemptStore  attempt.Store
	examStore     exam.Store
	cache         SummaryCache
	backendGate   BackendGate
	statusHandler *command.UpdateAttemptStatusHandler
	clock         timeutil.Clock
	logger        *slog.Logger

	// inlineTimeoutCheck retains the read-triggers-expiry behavior for
	// deployments that do not run the sweep job. When enabled, reading an
	// overdue attempt times it out first and re-reads.
	inlineTimeoutCheck bool
}

// NewGetAttemptStatusSummaryHandler creates a new handler.
func NewGetAttemptStatusSummaryHandler(
	attemptStore attempt.Store,
	examStore exam.Store,
	cache SummaryCache,
	backendGate BackendGate,
	statusHandler *command.UpdateAttemptStatusHandler,
	clock timeutil.Clock,
	logger *slog.Logger,
	inlineTimeoutCheck bool,
) *GetAttemptStatusSummaryHandler {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetAttemptStatusSummaryHandler{
		attemptStore:       attemptStore,
		examStore:          examStore,
		cache:              cache,
		backendGate:        backendGate,
		statusHandler:      statusHandler,
		clock:              clock,
		logger:             logger,
		inlineTimeoutCheck: inlineTimeoutCheck,
	}
}

// Handle executes the query.
func (h *GetAttemptStatusSummaryHandler) Handle(ctx context.Context, q GetAttemptStatusSummaryQuery) (*AttemptStatusSummary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, q.AttemptCode); err == nil && cached != nil {
			return cached, nil
		}
	}

	a, err := h.attemptStore.GetByCode(ctx, q.AttemptCode)
	if err != nil {
		return nil, fmt.Errorf("get_attempt_status_summary: %w", err)
	}

	now := h.clock.Now()

	if h.inlineTimeoutCheck && a.Status.IsIncomplete() && a.HasExpired(now) {
		a, err = h.expireAndReread(ctx, a)
		if err != nil {
			return nil, err
		}
	}

	e, err := h.examStore.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get_attempt_status_summary: %w", err)
	}

	summary := h.buildSummary(a, e, now)

	if h.cache != nil {
		if err := h.cache.Set(ctx, summary); err != nil {
			h.logger.Warn("failed to cache attempt summary",
				"attempt_code", a.AttemptCode, "error", err)
		}
	}
	return summary, nil
}

// expireAndReread times out an overdue attempt through the status funnel
// and re-reads it, so the poll response already shows the terminal state.
func (h *GetAttemptStatusSummaryHandler) expireAndReread(ctx context.Context, a *attempt.Attempt) (*attempt.Attempt, error) {
	expiresAt, _ := a.ExpiresAt()
	_, err := h.statusHandler.Handle(ctx, command.UpdateAttemptStatusCommand{
		AttemptID:      a.ID,
		ToStatus:       attempt.StatusTimedOut,
		CascadeEffects: true,
		TimeoutAt:      &expiresAt,
		AttributableTo: "inline-timeout-check",
	})
	if err != nil {
		return nil, fmt.Errorf("get_attempt_status_summary: inline timeout: %w", err)
	}

	refreshed, err := h.attemptStore.GetByID(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get_attempt_status_summary: %w", err)
	}
	return refreshed, nil
}

// buildSummary projects the attempt for clients. Remaining time counts
// down from started_at; unstarted attempts report the full allowance.
func (h *GetAttemptStatusSummaryHandler) buildSummary(a *attempt.Attempt, e *exam.Exam, now time.Time) *AttemptStatusSummary {
	remainingSecs := a.AllowedTimeLimitMins * 60
	if expiresAt, ok := a.ExpiresAt(); ok {
		remainingSecs = timeutil.SecondsUntil(now, expiresAt)
	}
	if a.Status.IsCompleted() {
		remainingSecs = 0
	}

	blocked := false
	pingSecs := 0
	if h.backendGate != nil && e.IsProctored {
		if a.Status != attempt.StatusStarted && a.Status != attempt.StatusReadyToSubmit {
			blocked = h.backendGate.ShouldBlockAccessToExamMaterial(e)
		}
		pingSecs = h.backendGate.PingIntervalSecs(e)
	}

	return &AttemptStatusSummary{
		AttemptID:            a.ID,
		AttemptCode:          a.AttemptCode,
		Status:               a.Status.String(),
		StatusDescription:    a.Status.Description(),
		StartedAt:            a.StartedAt,
		CompletedAt:          a.CompletedAt,
		AllowedTimeLimitMins: a.AllowedTimeLimitMins,
		TimeRemainingSecs:    remainingSecs,
		CanStart:             a.Status.CanBeStarted(),
		IsStatusAcknowledged: a.IsStatusAcknowledged,
		IsResumable:          a.IsResumable,
		BlockExamMaterial:    blocked,
		PingIntervalSecs:     pingSecs,
	}
}
