package jobs

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/application/command"
	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/notification"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends/null"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// The sweep runs through the real status funnel, so the test wires a
// minimal in-memory stack under it.

var sweepBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type sweepAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*attempt.Attempt
}

func newSweepAttemptStore() *sweepAttemptStore {
	return &sweepAttemptStore{attempts: make(map[string]*attempt.Attempt)}
}

func (s *sweepAttemptStore) clone(a *attempt.Attempt) *attempt.Attempt {
	c := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *sweepAttemptStore) Create(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ID] = s.clone(a)
	return nil
}

func (s *sweepAttemptStore) GetByID(_ context.Context, id string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, shared.ErrAttemptNotFound
	}
	return s.clone(a), nil
}

func (s *sweepAttemptStore) GetByCode(_ context.Context, _ string) (*attempt.Attempt, error) {
	return nil, shared.ErrAttemptNotFound
}

func (s *sweepAttemptStore) GetByExternalID(_ context.Context, _ string) (*attempt.Attempt, error) {
	return nil, shared.ErrAttemptNotFound
}

func (s *sweepAttemptStore) GetCurrent(_ context.Context, _ exam.ID, _ exam.UserID) (*attempt.Attempt, error) {
	return nil, shared.ErrAttemptNotFound
}

func (s *sweepAttemptStore) ListForUserExam(_ context.Context, examID exam.ID, userID exam.UserID) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*attempt.Attempt
	for _, a := range s.attempts {
		if a.ExamID == examID && a.UserID == userID {
			out = append(out, s.clone(a))
		}
	}
	return out, nil
}

func (s *sweepAttemptStore) ListForCourse(_ context.Context, _ exam.CourseID) ([]*attempt.Attempt, error) {
	return nil, nil
}

func (s *sweepAttemptStore) Update(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.attempts[a.ID]
	if !ok {
		return shared.ErrAttemptNotFound
	}
	if stored.Version != a.Version {
		return shared.ErrAttemptVersionStale
	}
	a.Version++
	s.attempts[a.ID] = s.clone(a)
	return nil
}

func (s *sweepAttemptStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
	return nil
}

func (s *sweepAttemptStore) FindExpired(_ context.Context, now time.Time, limit int) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*attempt.Attempt
	for _, a := range s.attempts {
		if a.HasExpired(now) {
			out = append(out, s.clone(a))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type sweepExamStore struct {
	exam *exam.Exam
}

func (s sweepExamStore) GetByID(_ context.Context, _ exam.ID) (*exam.Exam, error) {
	return s.exam, nil
}

func (s sweepExamStore) GetByContentID(_ context.Context, _ exam.CourseID, _ exam.ContentID) (*exam.Exam, error) {
	return s.exam, nil
}

func (s sweepExamStore) ListForCourse(_ context.Context, _ exam.CourseID) ([]*exam.Exam, error) {
	return []*exam.Exam{s.exam}, nil
}

type noAllowances struct{}

func (noAllowances) Get(_ context.Context, _ exam.ID, _ exam.UserID, _ exam.AllowanceKey) (*exam.Allowance, error) {
	return nil, shared.WrapError("exam", "FindAllowance", shared.ErrNotFound, "allowance not found", nil)
}

func (noAllowances) ListForUserExam(_ context.Context, _ exam.ID, _ exam.UserID) ([]*exam.Allowance, error) {
	return nil, nil
}

type noopCredit struct{}

func (noopCredit) GetCreditState(_ context.Context, courseID, userID string) (*credit.CreditState, error) {
	return &credit.CreditState{CourseID: courseID, UserID: userID}, nil
}

func (noopCredit) SetRequirementStatus(_ context.Context, _, _, _, _ string, _ credit.RequirementState) error {
	return nil
}

func (noopCredit) RemoveRequirementStatus(_ context.Context, _, _, _, _ string) error { return nil }

type noopGrades struct{}

func (noopGrades) OverrideSubsectionGrade(_ context.Context, _, _, _ string, _ float64) error {
	return nil
}

func (noopGrades) UndoOverrideSubsectionGrade(_ context.Context, _, _, _ string) error { return nil }

func (noopGrades) ShouldOverrideGradeOnRejected(_ context.Context, _ string) (bool, error) {
	return false, nil
}

type noopCerts struct{}

func (noopCerts) InvalidateCertificate(_ context.Context, _, _ string) error { return nil }

type noopSink struct{}

func (noopSink) Deliver(_ context.Context, _ *notification.StatusEmail) error { return nil }

func newSweepFixture(clock timeutil.Clock) (*sweepAttemptStore, *command.AttemptActions) {
	store := newSweepAttemptStore()
	e := &exam.Exam{
		ID:            "exam-1",
		CourseID:      "course-1",
		ContentID:     "block-1",
		ExamName:      "Final",
		TimeLimitMins: 30,
		IsProctored:   true,
		IsActive:      true,
	}
	registry := backends.NewRegistry("null")
	registry.Register("null", null.New())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	statusHandler := command.NewUpdateAttemptStatusHandler(
		store, sweepExamStore{exam: e}, noAllowances{},
		noopCredit{}, noopGrades{}, noopCerts{}, noopSink{},
		registry, nil, clock, logger,
		command.UpdateAttemptStatusConfig{AllowTimedOutState: true})
	return store, command.NewAttemptActions(store, statusHandler)
}

func seedStarted(store *sweepAttemptStore, id string, startedAt time.Time, allowedMins int) {
	err := store.Create(context.Background(), &attempt.Attempt{
		ID:                   id,
		ExamID:               "exam-1",
		UserID:               exam.UserID("user-" + id),
		AttemptCode:          "code-" + id,
		Status:               attempt.StatusStarted,
		StartedAt:            &startedAt,
		AllowedTimeLimitMins: allowedMins,
		Version:              1,
	})
	if err != nil {
		panic(err)
	}
}

func TestSweepTimesOutOverdueAttempts(t *testing.T) {
	clock := timeutil.NewFakeClock(sweepBase)
	store, actions := newSweepFixture(clock)

	seedStarted(store, "overdue-1", sweepBase.Add(-40*time.Minute), 30)
	seedStarted(store, "overdue-2", sweepBase.Add(-31*time.Minute), 30)
	seedStarted(store, "in-time", sweepBase.Add(-10*time.Minute), 30)

	job := NewExpireAttemptsJob(store, actions, clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), ExpireAttemptsConfig{})
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Found)
	assert.Equal(t, 2, stats.Expired)
	assert.Equal(t, 0, stats.Failed)

	for _, id := range []string{"overdue-1", "overdue-2"} {
		a, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, attempt.StatusTimedOut, a.Status, "attempt %s", id)
		require.NotNil(t, a.CompletedAt)
		assert.Equal(t, a.StartedAt.Add(30*time.Minute), *a.CompletedAt,
			"completion is the expiry instant")
	}

	inTime, err := store.GetByID(context.Background(), "in-time")
	require.NoError(t, err)
	assert.Equal(t, attempt.StatusStarted, inTime.Status)
}

func TestSweepWithNothingOverdue(t *testing.T) {
	clock := timeutil.NewFakeClock(sweepBase)
	store, actions := newSweepFixture(clock)
	seedStarted(store, "fresh", sweepBase.Add(-time.Minute), 30)

	job := NewExpireAttemptsJob(store, actions, clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), ExpireAttemptsConfig{})
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Found)
}

func TestSweepHonorsBatchSize(t *testing.T) {
	clock := timeutil.NewFakeClock(sweepBase)
	store, actions := newSweepFixture(clock)
	for i := 0; i < 5; i++ {
		seedStarted(store, "overdue-"+string(rune('a'+i)), sweepBase.Add(-2*time.Hour), 30)
	}

	job := NewExpireAttemptsJob(store, actions, clock,
		slog.New(slog.NewTextHandler(io.Discard, nil)), ExpireAttemptsConfig{BatchSize: 2})
	require.NoError(t, job.Run(context.Background()))

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Found, "leftovers are caught by the next run")
	assert.Equal(t, 2, stats.Expired)
}
