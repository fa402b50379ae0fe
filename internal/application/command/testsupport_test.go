package command

import (
	"context"
	"sync"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/notification"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// Shared across the command handler tests. The attempt store honors the
// optimistic version check the same way the postgres repository does.
// ══════════════════════════════════════════════════════════════════════════════

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

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts []*attempt.Attempt

	failUpdate error // returned once by the next Update, then cleared
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{}
}

func (s *fakeAttemptStore) Create(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, cloneAttempt(a))
	return nil
}

func (s *fakeAttemptStore) GetByID(_ context.Context, id string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ID == id {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *fakeAttemptStore) GetByCode(_ context.Context, code string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.AttemptCode == code {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *fakeAttemptStore) GetByExternalID(_ context.Context, externalID string) (*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ExternalID == externalID {
			return cloneAttempt(a), nil
		}
	}
	return nil, shared.ErrAttemptNotFound
}

func (s *fakeAttemptStore) GetCurrent(_ context.Context, examID exam.ID, userID exam.UserID) (*attempt.Attempt, error) {
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

func (s *fakeAttemptStore) ListForUserExam(_ context.Context, examID exam.ID, userID exam.UserID) ([]*attempt.Attempt, error) {
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

func (s *fakeAttemptStore) ListForCourse(_ context.Context, _ exam.CourseID) ([]*attempt.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*attempt.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, cloneAttempt(a))
	}
	return out, nil
}

func (s *fakeAttemptStore) Update(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		err := s.failUpdate
		s.failUpdate = nil
		return err
	}
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

func (s *fakeAttemptStore) Delete(_ context.Context, id string) error {
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

func (s *fakeAttemptStore) FindExpired(_ context.Context, now time.Time, limit int) ([]*attempt.Attempt, error) {
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

// mustGet fetches an attempt directly, bypassing context plumbing.
func (s *fakeAttemptStore) mustGet(id string) *attempt.Attempt {
	a, err := s.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return a
}

type fakeExamStore struct {
	exams map[exam.ID]*exam.Exam
}

func newFakeExamStore(exams ...*exam.Exam) *fakeExamStore {
	s := &fakeExamStore{exams: make(map[exam.ID]*exam.Exam)}
	for _, e := range exams {
		s.exams[e.ID] = e
	}
	return s
}

func (s *fakeExamStore) GetByID(_ context.Context, id exam.ID) (*exam.Exam, error) {
	e, ok := s.exams[id]
	if !ok {
		return nil, shared.ErrExamNotFound
	}
	return e, nil
}

func (s *fakeExamStore) GetByContentID(_ context.Context, courseID exam.CourseID, contentID exam.ContentID) (*exam.Exam, error) {
	for _, e := range s.exams {
		if e.CourseID == courseID && e.ContentID == contentID {
			return e, nil
		}
	}
	return nil, shared.ErrExamNotFound
}

func (s *fakeExamStore) ListForCourse(_ context.Context, courseID exam.CourseID) ([]*exam.Exam, error) {
	var out []*exam.Exam
	for _, e := range s.exams {
		if e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePolicyStore struct {
	policies map[exam.ID]*exam.ReviewPolicy
}

func (s *fakePolicyStore) GetForExam(_ context.Context, examID exam.ID) (*exam.ReviewPolicy, error) {
	if s == nil || s.policies == nil {
		return nil, shared.ErrPolicyNotFound
	}
	p, ok := s.policies[examID]
	if !ok {
		return nil, shared.ErrPolicyNotFound
	}
	return p, nil
}

type fakeAllowanceStore struct {
	allowances []*exam.Allowance
}

func (s *fakeAllowanceStore) Get(_ context.Context, examID exam.ID, userID exam.UserID, key exam.AllowanceKey) (*exam.Allowance, error) {
	for _, a := range s.allowances {
		if a.ExamID == examID && a.UserID == userID && a.Key == key {
			return a, nil
		}
	}
	return nil, shared.WrapError("exam", "FindAllowance", shared.ErrNotFound, "allowance not found", nil)
}

func (s *fakeAllowanceStore) ListForUserExam(_ context.Context, examID exam.ID, userID exam.UserID) ([]*exam.Allowance, error) {
	var out []*exam.Allowance
	for _, a := range s.allowances {
		if a.ExamID == examID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// LMS service fakes
// ─────────────────────────────────────────────────────────────────────────────

type creditPush struct {
	CourseID  string
	UserID    string
	Namespace string
	Name      string
	State     credit.RequirementState
}

type fakeCreditService struct {
	pushes   []creditPush
	removals []creditPush
	err      error
}

func (s *fakeCreditService) GetCreditState(_ context.Context, courseID, userID string) (*credit.CreditState, error) {
	return &credit.CreditState{CourseID: courseID, UserID: userID}, nil
}

func (s *fakeCreditService) SetRequirementStatus(_ context.Context, courseID, userID, namespace, name string, state credit.RequirementState) error {
	if s.err != nil {
		return s.err
	}
	s.pushes = append(s.pushes, creditPush{courseID, userID, namespace, name, state})
	return nil
}

func (s *fakeCreditService) RemoveRequirementStatus(_ context.Context, courseID, userID, namespace, name string) error {
	if s.err != nil {
		return s.err
	}
	s.removals = append(s.removals, creditPush{CourseID: courseID, UserID: userID, Namespace: namespace, Name: name})
	return nil
}

type gradeOverride struct {
	CourseID  string
	UserID    string
	ContentID string
	Earned    float64
}

type fakeGradesService struct {
	overrides []gradeOverride
	undos     []gradeOverride

	overrideOnRejected bool
	policyErr          error
}

func (s *fakeGradesService) OverrideSubsectionGrade(_ context.Context, courseID, userID, contentID string, earned float64) error {
	s.overrides = append(s.overrides, gradeOverride{courseID, userID, contentID, earned})
	return nil
}

func (s *fakeGradesService) UndoOverrideSubsectionGrade(_ context.Context, courseID, userID, contentID string) error {
	s.undos = append(s.undos, gradeOverride{CourseID: courseID, UserID: userID, ContentID: contentID})
	return nil
}

func (s *fakeGradesService) ShouldOverrideGradeOnRejected(_ context.Context, _ string) (bool, error) {
	return s.overrideOnRejected, s.policyErr
}

type fakeCertificatesService struct {
	invalidated []string // "courseID/userID"
}

func (s *fakeCertificatesService) InvalidateCertificate(_ context.Context, courseID, userID string) error {
	s.invalidated = append(s.invalidated, courseID+"/"+userID)
	return nil
}

type fakeEmailSink struct {
	delivered []*notification.StatusEmail
	err       error
}

func (s *fakeEmailSink) Deliver(_ context.Context, email *notification.StatusEmail) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, email)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Vendor fake
// ─────────────────────────────────────────────────────────────────────────────

type fakeProvider struct {
	externalID  string
	registerErr error

	registered []backends.RegistrationRequest
	started    []string
	stopped    []string
	errored    []string
}

func (p *fakeProvider) VerboseName() string                   { return "Fake Vendor" }
func (p *fakeProvider) PingInterval() time.Duration           { return 0 }
func (p *fakeProvider) SupportsOnboarding() bool              { return true }
func (p *fakeProvider) HasDashboard() bool                    { return false }
func (p *fakeProvider) ShouldBlockAccessToExamMaterial() bool { return false }

func (p *fakeProvider) RegisterExamAttempt(_ context.Context, req backends.RegistrationRequest) (*backends.RegistrationResult, error) {
	if p.registerErr != nil {
		return nil, p.registerErr
	}
	p.registered = append(p.registered, req)
	return &backends.RegistrationResult{ExternalID: p.externalID}, nil
}

func (p *fakeProvider) StartExamAttempt(_ context.Context, externalID string) error {
	p.started = append(p.started, externalID)
	return nil
}

func (p *fakeProvider) StopExamAttempt(_ context.Context, externalID string) error {
	p.stopped = append(p.stopped, externalID)
	return nil
}

func (p *fakeProvider) MarkErroneousExamAttempt(_ context.Context, externalID string) error {
	p.errored = append(p.errored, externalID)
	return nil
}

func newTestRegistry(p backends.Provider) *backends.Registry {
	r := backends.NewRegistry("fake")
	r.Register("fake", p)
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// Event recorder
// ─────────────────────────────────────────────────────────────────────────────

type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *eventRecorder) Publish(event shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) countType(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}
