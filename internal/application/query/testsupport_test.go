package query

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

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

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// The query handlers delegate writes to the real command handlers, so the
// fixture wires those up against the same in-memory stores.
// ══════════════════════════════════════════════════════════════════════════════

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cloneAttempt(a *attempt.Attempt) *attempt.Attempt {
	c := *a
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	if a.TimeRemainingSeconds != nil {
		s := *a.TimeRemainingSeconds
		c.TimeRemainingSeconds = &s
	}
	return &c
}

type memAttemptStore struct {
	mu       sync.Mutex
	attempts []*attempt.Attempt
}

func (s *memAttemptStore) Create(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, cloneAttempt(a))
	return nil
}

func (s *memAttemptStore) GetByID(_ context.Context, id string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ID == id {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *memAttemptStore) GetByCode(_ context.Context, code string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.AttemptCode == code {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *memAttemptStore) GetByExternalID(_ context.Context, externalID string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ExternalID == externalID {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *memAttemptStore) GetCurrent(_ context.Context, examID exam.ID, userID exam.UserID) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *attempt.Attempt
	for _, a := range s.attempts {
		if a.ExamID == examID && a.UserID == userID && a.Status != attempt.StatusResumed {
			current = a
		}
	}
	if current == nil {
		return nil, shared.ErrAttemptNotFound
	}
	return cloneAttempt(current), nil
}

func (s *memAttemptStore) ListForUserExam(_ context.Context, examID exam.ID, userID exam.UserID) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*attempt.Attempt
	for _, a := range s.attempts {
		if a.ExamID == examID && a.UserID == userID {
			out = append(out, cloneAttempt(a))
		}
	}
	return out, nil
}

func (s *memAttemptStore) ListForCourse(_ context.Context, _ exam.CourseID) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*attempt.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, cloneAttempt(a))
	}
	return out, nil
}

func (s *memAttemptStore) Update(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, stored := range s.attempts {
		if stored.ID != a.ID {
			continue
		}
		if stored.Version != a.Version {
			return shared.ErrAttemptVersionStale
		}
		a.Version++
		s.attempts[i] = cloneAttempt(a)
		return nil
	}
	return shared.ErrAttemptNotFound
}

func (s *memAttemptStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.attempts {
		if a.ID == id {
			s.attempts = append(s.attempts[:i], s.attempts[i+1:]...)
			return nil
		}
	}
	return shared.ErrAttemptNotFound
}

func (s *memAttemptStore) FindExpired(_ context.Context, now time.Time, limit int) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*attempt.Attempt
	for _, a := range s.attempts {
		if a.HasExpired(now) {
			out = append(out, cloneAttempt(a))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memExamStore struct {
	exams map[exam.ID]*exam.Exam
}

func (s *memExamStore) GetByID(_ context.Context, id exam.ID) (*exam.Exam, error) {
	e, ok := s.exams[id]
	if !ok {
		return nil, shared.ErrExamNotFound
	}
	return e, nil
}

func (s *memExamStore) GetByContentID(_ context.Context, courseID exam.CourseID, contentID exam.ContentID) (*exam.Exam, error) {
	for _, e := range s.exams {
		if e.CourseID == courseID && e.ContentID == contentID {
			return e, nil
		}
	}
	return nil, shared.ErrExamNotFound
}

func (s *memExamStore) ListForCourse(_ context.Context, courseID exam.CourseID) ([]*exam.Exam, error) {
	var out []*exam.Exam
	for _, e := range s.exams {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPolicyStore struct{}

func (memPolicyStore) GetForExam(_ context.Context, _ exam.ID) (*exam.ReviewPolicy, error) {
	return nil, shared.ErrPolicyNotFound
}

type memAllowanceStore struct{}

func (memAllowanceStore) Get(_ context.Context, _ exam.ID, _ exam.UserID, _ exam.AllowanceKey) (*exam.Allowance, error) {
	return nil, shared.WrapError("exam", "FindAllowance", shared.ErrNotFound, "allowance not found", nil)
}

func (memAllowanceStore) ListForUserExam(_ context.Context, _ exam.ID, _ exam.UserID) ([]*exam.Allowance, error) {
	return nil, nil
}

type memCreditService struct {
	requirements []credit.RequirementStatus
	stateErr     error
}

func (s *memCreditService) GetCreditState(_ context.Context, courseID, userID string) (*credit.CreditState, error) {
	if s.stateErr != nil {
		return nil, s.stateErr
	}
	return &credit.CreditState{CourseID: courseID, UserID: userID, Requirements: s.requirements}, nil
}

func (s *memCreditService) SetRequirementStatus(_ context.Context, _, _, _, _ string, _ credit.RequirementState) error {
	return nil
}

func (s *memCreditService) RemoveRequirementStatus(_ context.Context, _, _, _, _ string) error {
	return nil
}

type memGradesService struct{}

func (memGradesService) OverrideSubsectionGrade(_ context.Context, _, _, _ string, _ float64) error {
	return nil
}

func (memGradesService) UndoOverrideSubsectionGrade(_ context.Context, _, _, _ string) error {
	return nil
}

func (memGradesService) ShouldOverrideGradeOnRejected(_ context.Context, _ string) (bool, error) {
	return false, nil
}

type memCertificatesService struct{}

func (memCertificatesService) InvalidateCertificate(_ context.Context, _, _ string) error {
	return nil
}

type memEmailSink struct{}

func (memEmailSink) Deliver(_ context.Context, _ *notification.StatusEmail) error { return nil }

// memSummaryCache is a map-backed SummaryCache with hit/set counters.
type memSummaryCache struct {
	entries map[string]*AttemptStatusSummary
	sets    int
}

func newMemSummaryCache() *memSummaryCache {
	return &memSummaryCache{entries: make(map[string]*AttemptStatusSummary)}
}

func (c *memSummaryCache) Get(_ context.Context, attemptCode string) (*AttemptStatusSummary, error) {
	return c.entries[attemptCode], nil
}

func (c *memSummaryCache) Set(_ context.Context, summary *AttemptStatusSummary) error {
	c.entries[summary.AttemptCode] = summary
	c.sets++
	return nil
}

func (c *memSummaryCache) Invalidate(_ context.Context, attemptCode string) error {
	delete(c.entries, attemptCode)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type queryFixture struct {
	attempts *memAttemptStore
	exams    *memExamStore
	credits  *memCreditService
	cache    *memSummaryCache
	registry *backends.Registry
	clock    *timeutil.FakeClock
	status   *command.UpdateAttemptStatusHandler
	create   *command.CreateExamAttemptHandler
}

func newQueryFixture(exams ...*exam.Exam) *queryFixture {
	f := &queryFixture{
		attempts: &memAttemptStore{},
		exams:    &memExamStore{exams: make(map[exam.ID]*exam.Exam)},
		credits:  &memCreditService{},
		cache:    newMemSummaryCache(),
		registry: backends.NewRegistry("null"),
		clock:    timeutil.NewFakeClock(baseTime),
	}
	for _, e := range exams {
		f.exams.exams[e.ID] = e
	}
	f.registry.Register("null", null.New())

	f.status = command.NewUpdateAttemptStatusHandler(
		f.attempts, f.exams, memAllowanceStore{},
		f.credits, memGradesService{}, memCertificatesService{}, memEmailSink{},
		f.registry, nil, f.clock, discardLogger(),
		command.UpdateAttemptStatusConfig{AllowTimedOutState: true})
	f.create = command.NewCreateExamAttemptHandler(
		f.attempts, f.exams, memPolicyStore{}, memAllowanceStore{}, f.status,
		f.registry, nil, f.clock, discardLogger(), []byte("test-secret"))
	return f
}

func (f *queryFixture) summaryHandler(inlineTimeout bool) *GetAttemptStatusSummaryHandler {
	return NewGetAttemptStatusSummaryHandler(
		f.attempts, f.exams, f.cache, f.registry, f.status,
		f.clock, discardLogger(), inlineTimeout)
}

func (f *queryFixture) prereqHandler() *CheckPrerequisitesHandler {
	return NewCheckPrerequisitesHandler(
		f.exams, f.attempts, f.credits, f.create, f.status,
		discardLogger(), []string{"grade"})
}

func proctoredExam(id, courseID, contentID string) *exam.Exam {
	return &exam.Exam{
		ID:            exam.ID(id),
		CourseID:      exam.CourseID(courseID),
		ContentID:     exam.ContentID(contentID),
		ExamName:      "Algorithms Midterm",
		TimeLimitMins: 30,
		IsProctored:   true,
		IsActive:      true,
	}
}

func seedAttempt(f *queryFixture, id string, e *exam.Exam, userID string, status attempt.Status) *attempt.Attempt {
	a := &attempt.Attempt{
		ID:          id,
		ExamID:      e.ID,
		UserID:      exam.UserID(userID),
		AttemptCode: "code-" + id,
		Status:      status,
		Version:     1,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
	if err := f.attempts.Create(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}
