package command

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

func testAttempt(id string, e *exam.Exam, userID string, status attempt.Status) *attempt.Attempt {
	return &attempt.Attempt{
		ID:                id,
		ExamID:            e.ID,
		UserID:            exam.UserID(userID),
		AttemptCode:       "code-" + id,
		ExternalID:        "ext-" + id,
		Status:            status,
		TakingAsProctored: true,
		Version:           1,
		CreatedAt:         baseTime,
		UpdatedAt:         baseTime,
	}
}

// funnelFixture wires the status funnel against the in-memory fakes.
type funnelFixture struct {
	attempts *fakeAttemptStore
	exams    *fakeExamStore
	allow    *fakeAllowanceStore
	credits  *fakeCreditService
	grades   *fakeGradesService
	certs    *fakeCertificatesService
	sink     *fakeEmailSink
	provider *fakeProvider
	events   *eventRecorder
	clock    *timeutil.FakeClock
	handler  *UpdateAttemptStatusHandler
}

func newFunnelFixture(cfg UpdateAttemptStatusConfig, exams ...*exam.Exam) *funnelFixture {
	f := &funnelFixture{
		attempts: newFakeAttemptStore(),
		exams:    newFakeExamStore(exams...),
		allow:    &fakeAllowanceStore{},
		credits:  &fakeCreditService{},
		grades:   &fakeGradesService{overrideOnRejected: true},
		certs:    &fakeCertificatesService{},
		sink:     &fakeEmailSink{},
		provider: &fakeProvider{externalID: "ext-1"},
		events:   &eventRecorder{},
		clock:    timeutil.NewFakeClock(baseTime),
	}
	f.handler = NewUpdateAttemptStatusHandler(
		f.attempts, f.exams, f.allow,
		f.credits, f.grades, f.certs, f.sink,
		newTestRegistry(f.provider), f.events, f.clock, discardLogger(), cfg)
	return f
}

func (f *funnelFixture) seed(a *attempt.Attempt) *attempt.Attempt {
	if err := f.attempts.Create(context.Background(), a); err != nil {
		panic(err)
	}
	return a
}

func (f *funnelFixture) transitionTo(t *testing.T, attemptID string, to attempt.Status) *UpdateAttemptStatusResult {
	t.Helper()
	result, err := f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID:      attemptID,
		ToStatus:       to,
		CascadeEffects: true,
		AttributableTo: "test",
	})
	require.NoError(t, err)
	return result
}

// ─────────────────────────────────────────────────────────────────────────────
// Start and allowed time
// ─────────────────────────────────────────────────────────────────────────────

func TestFirstStartComputesAllowedTime(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	f.allow.allowances = []*exam.Allowance{
		{ExamID: e.ID, UserID: "user-1", Key: exam.AllowanceAdditionalTime, Value: "15"},
	}
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusReadyToStart))

	result := f.transitionTo(t, a.ID, attempt.StatusStarted)

	assert.Equal(t, attempt.StatusStarted, result.ToStatus)
	stored := f.attempts.mustGet(a.ID)
	require.NotNil(t, stored.StartedAt)
	assert.Equal(t, baseTime, *stored.StartedAt)
	assert.Equal(t, 45, stored.AllowedTimeLimitMins, "base 30 plus 15 allowance minutes")
	assert.Equal(t, []string{"ext-a1"}, f.provider.started, "vendor start hook fires on first start")
}

func TestFirstStartClampedToDueDate(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	due := baseTime.Add(10 * time.Minute)
	e.DueDate = &due
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusReadyToStart))

	f.transitionTo(t, a.ID, attempt.StatusStarted)

	stored := f.attempts.mustGet(a.ID)
	assert.Equal(t, 10, stored.AllowedTimeLimitMins,
		"30-minute exam clamps to the 10 minutes left before the due date")
}

func TestRestartDoesNotRestampOrRecompute(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusReadyToStart))

	f.transitionTo(t, a.ID, attempt.StatusStarted)
	f.clock.Advance(5 * time.Minute)
	f.transitionTo(t, a.ID, attempt.StatusReadyToSubmit)
	f.transitionTo(t, a.ID, attempt.StatusStarted)

	stored := f.attempts.mustGet(a.ID)
	assert.Equal(t, baseTime, *stored.StartedAt)
	assert.Equal(t, []string{"ext-a1"}, f.provider.started, "start hook fires at most once")
}

// ─────────────────────────────────────────────────────────────────────────────
// Timeout
// ─────────────────────────────────────────────────────────────────────────────

func TestTimeoutStampsExpiryInstant(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := testAttempt("a1", e, "user-1", attempt.StatusStarted)
	startedAt := baseTime
	a.StartedAt = &startedAt
	a.AllowedTimeLimitMins = 10
	f.seed(a)

	f.clock.Advance(11 * time.Minute)
	expiry := startedAt.Add(10 * time.Minute)
	result, err := f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID:      a.ID,
		ToStatus:       attempt.StatusTimedOut,
		TimeoutAt:      &expiry,
		AttributableTo: "timeout",
	})
	require.NoError(t, err)

	assert.Equal(t, attempt.StatusTimedOut, result.ToStatus)
	stored := f.attempts.mustGet(a.ID)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, expiry, *stored.CompletedAt,
		"completion is the computed expiry, not wall-clock now")
}

func TestTimeoutCoercesToSubmittedWhenStateDisabled(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: false}, e)
	a := testAttempt("a1", e, "user-1", attempt.StatusStarted)
	startedAt := baseTime
	a.StartedAt = &startedAt
	a.AllowedTimeLimitMins = 10
	f.seed(a)

	expiry := startedAt.Add(10 * time.Minute)
	result, err := f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID: a.ID,
		ToStatus:  attempt.StatusTimedOut,
		TimeoutAt: &expiry,
	})
	require.NoError(t, err)

	assert.Equal(t, attempt.StatusSubmitted, result.ToStatus)
	stored := f.attempts.mustGet(a.ID)
	assert.Equal(t, attempt.StatusSubmitted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, expiry, *stored.CompletedAt)
	assert.Equal(t, []string{"ext-a1"}, f.provider.stopped, "coerced submission still stops the vendor session")
}

// ─────────────────────────────────────────────────────────────────────────────
// Legality and concurrency
// ─────────────────────────────────────────────────────────────────────────────

func TestCompletedAttemptCannotGoBackward(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusDeclined))

	_, err := f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID: a.ID,
		ToStatus:  attempt.StatusReadyToStart,
	})
	require.Error(t, err)
	assert.True(t, shared.IsIllegalTransition(err))
	assert.Equal(t, attempt.StatusDeclined, f.attempts.mustGet(a.ID).Status, "refused transitions persist nothing")
}

func TestReattemptOfCompletedExamCollapsesToSubmitted(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusVerified))

	result := f.transitionTo(t, a.ID, attempt.StatusStarted)
	assert.Equal(t, attempt.StatusSubmitted, result.ToStatus)
}

func TestMissingAttemptHonorsAllowMissing(t *testing.T) {
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true})

	result, err := f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID:    "gone",
		ToStatus:     attempt.StatusTimedOut,
		AllowMissing: true,
	})
	require.NoError(t, err)
	assert.False(t, result.Applied)

	_, err = f.handler.Handle(context.Background(), UpdateAttemptStatusCommand{
		AttemptID: "gone",
		ToStatus:  attempt.StatusTimedOut,
	})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestOptimisticLockRetriesOnce(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusReadyToStart))

	f.attempts.failUpdate = shared.ErrAttemptVersionStale
	result := f.transitionTo(t, a.ID, attempt.StatusStarted)

	assert.True(t, result.Applied)
	assert.Equal(t, attempt.StatusStarted, f.attempts.mustGet(a.ID).Status)
}

// ─────────────────────────────────────────────────────────────────────────────
// Authority gate and side effects
// ─────────────────────────────────────────────────────────────────────────────

func TestSubmitPushesCreditAndEmail(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true, SendStatusEmails: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusStarted))

	result := f.transitionTo(t, a.ID, attempt.StatusSubmitted)

	assert.True(t, result.Authoritative)
	require.Len(t, f.credits.pushes, 1)
	push := f.credits.pushes[0]
	assert.Equal(t, "course-1", push.CourseID)
	assert.Equal(t, credit.NamespaceProctoredExam, push.Namespace)
	assert.Equal(t, "block-1", push.Name)
	assert.Equal(t, credit.RequirementSubmitted, push.State)

	require.Len(t, f.sink.delivered, 1)
	assert.Equal(t, attempt.StatusSubmitted, f.sink.delivered[0].Status)
}

func TestNonAuthoritativeTransitionSkipsSideEffects(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true, SendStatusEmails: true}, e)
	f.seed(testAttempt("a0", e, "user-1", attempt.StatusRejected))
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusStarted))

	result := f.transitionTo(t, a.ID, attempt.StatusSubmitted)

	assert.False(t, result.Authoritative, "a standing rejection overrules the submission")
	assert.Empty(t, f.credits.pushes)
	assert.Empty(t, f.sink.delivered)
	assert.Equal(t, []string{"ext-a1"}, f.provider.stopped, "vendor hooks fire regardless of authority")
}

func TestPracticeAttemptSkipsCreditGradesAndEmail(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	e.IsPracticeExam = true
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true, SendStatusEmails: true}, e)
	a := testAttempt("a1", e, "user-1", attempt.StatusStarted)
	a.IsSamplePractice = true
	f.seed(a)

	result := f.transitionTo(t, a.ID, attempt.StatusSubmitted)

	assert.True(t, result.Authoritative)
	assert.Empty(t, f.credits.pushes)
	assert.Empty(t, f.sink.delivered)
	assert.Empty(t, f.grades.overrides)
}

func TestRejectionZeroesGradeAndVoidsCertificate(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusSubmitted))

	f.transitionTo(t, a.ID, attempt.StatusRejected)

	require.Len(t, f.grades.overrides, 1)
	assert.Equal(t, 0.0, f.grades.overrides[0].Earned)
	assert.Equal(t, []string{"course-1/user-1"}, f.certs.invalidated)
	assert.Equal(t, 1, f.events.countType(shared.EventGradeOverridden))
	assert.Equal(t, 1, f.events.countType(shared.EventCertificateInvalidated))
}

func TestRejectionWithoutPenaltyPolicyLeavesGradeAndCertificate(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	f.grades.overrideOnRejected = false
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusSubmitted))

	f.transitionTo(t, a.ID, attempt.StatusRejected)

	assert.Empty(t, f.grades.overrides)
	assert.Empty(t, f.certs.invalidated, "no grade penalty means the certificate survives too")
	require.Len(t, f.credits.pushes, 1, "the credit failure is pushed either way")
	assert.Equal(t, credit.RequirementFailed, f.credits.pushes[0].State)
}

func TestGradeOverrideFeatureFlagsGateEffects(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")

	f := newFunnelFixture(UpdateAttemptStatusConfig{
		AllowTimedOutState:    true,
		DisableGradeOverrides: true,
	}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusSubmitted))
	f.transitionTo(t, a.ID, attempt.StatusRejected)
	assert.Empty(t, f.grades.overrides)
	assert.Len(t, f.certs.invalidated, 1, "certificate invalidation is gated separately")

	f = newFunnelFixture(UpdateAttemptStatusConfig{
		AllowTimedOutState:             true,
		DisableCertificateInvalidation: true,
	}, e)
	a = f.seed(testAttempt("a1", e, "user-1", attempt.StatusSubmitted))
	f.transitionTo(t, a.ID, attempt.StatusRejected)
	assert.Len(t, f.grades.overrides, 1)
	assert.Empty(t, f.certs.invalidated)
}

func TestVerifiedUndoesPriorGradeOverride(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, e)
	a := f.seed(testAttempt("a1", e, "user-1", attempt.StatusRejected))

	result := f.transitionTo(t, a.ID, attempt.StatusVerified)

	assert.True(t, result.Authoritative)
	require.Len(t, f.grades.undos, 1)
	assert.Equal(t, "block-1", f.grades.undos[0].ContentID)
	assert.Equal(t, 1, f.events.countType(shared.EventGradeOverrideUndone))
	require.Len(t, f.credits.pushes, 1)
	assert.Equal(t, credit.RequirementSatisfied, f.credits.pushes[0].State)
}

// ─────────────────────────────────────────────────────────────────────────────
// Failure cascade
// ─────────────────────────────────────────────────────────────────────────────

func TestCascadeDeclinesSiblingProctoredExams(t *testing.T) {
	examA := proctoredExam("exam-a", "course-1", "block-a")
	examB := proctoredExam("exam-b", "course-1", "block-b")
	practice := proctoredExam("exam-p", "course-1", "block-p")
	practice.IsPracticeExam = true
	inactive := proctoredExam("exam-i", "course-1", "block-i")
	inactive.IsActive = false

	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true},
		examA, examB, practice, inactive)
	a := f.seed(testAttempt("a1", examA, "user-1", attempt.StatusSubmitted))

	result := f.transitionTo(t, a.ID, attempt.StatusRejected)

	// Proctoring is stripped from the failed attempt.
	stored := f.attempts.mustGet(a.ID)
	assert.False(t, stored.TakingAsProctored)
	assert.Empty(t, stored.ExternalID)

	// Exactly one sibling attempt was created and declined; practice and
	// inactive exams are not cascade targets.
	require.Len(t, result.CascadedAttemptIDs, 1)
	declined := f.attempts.mustGet(result.CascadedAttemptIDs[0])
	assert.Equal(t, examB.ID, declined.ExamID)
	assert.Equal(t, attempt.StatusDeclined, declined.Status)
	all, _ := f.attempts.ListForCourse(context.Background(), examA.CourseID)
	assert.Len(t, all, 2, "one new row for the cascaded decline, nothing else")

	// Both the rejection and the cascaded decline push credit statuses.
	states := map[string]credit.RequirementState{}
	for _, p := range f.credits.pushes {
		states[p.Name] = p.State
	}
	assert.Equal(t, credit.RequirementFailed, states["block-a"])
	assert.Equal(t, credit.RequirementDeclined, states["block-b"])
}

func TestCascadeDeclinesExistingInFlightSibling(t *testing.T) {
	examA := proctoredExam("exam-a", "course-1", "block-a")
	examB := proctoredExam("exam-b", "course-1", "block-b")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, examA, examB)
	a := f.seed(testAttempt("a1", examA, "user-1", attempt.StatusSubmitted))
	sibling := f.seed(testAttempt("b1", examB, "user-1", attempt.StatusStarted))

	result := f.transitionTo(t, a.ID, attempt.StatusRejected)

	assert.Equal(t, []string{sibling.ID}, result.CascadedAttemptIDs)
	assert.Equal(t, attempt.StatusDeclined, f.attempts.mustGet(sibling.ID).Status)
	all, _ := f.attempts.ListForCourse(context.Background(), examA.CourseID)
	assert.Len(t, all, 2, "in-flight siblings are declined in place, not duplicated")
}

func TestCascadeSkipsCompletedSibling(t *testing.T) {
	examA := proctoredExam("exam-a", "course-1", "block-a")
	examB := proctoredExam("exam-b", "course-1", "block-b")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, examA, examB)
	a := f.seed(testAttempt("a1", examA, "user-1", attempt.StatusSubmitted))
	sibling := f.seed(testAttempt("b1", examB, "user-1", attempt.StatusVerified))

	result := f.transitionTo(t, a.ID, attempt.StatusRejected)

	assert.Empty(t, result.CascadedAttemptIDs)
	assert.Equal(t, attempt.StatusVerified, f.attempts.mustGet(sibling.ID).Status)
}

func TestCascadedTransitionsAreMarkedOnEvents(t *testing.T) {
	examA := proctoredExam("exam-a", "course-1", "block-a")
	examB := proctoredExam("exam-b", "course-1", "block-b")
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, examA, examB)
	a := f.seed(testAttempt("a1", examA, "user-1", attempt.StatusSubmitted))

	f.transitionTo(t, a.ID, attempt.StatusRejected)

	var cascaded, direct int
	for _, ev := range f.events.events {
		changed, ok := ev.(*shared.AttemptStatusChangedEvent)
		if !ok {
			continue
		}
		if changed.Cascaded {
			cascaded++
			assert.Equal(t, attempt.StatusDeclined.String(), changed.ToStatus)
		} else {
			direct++
		}
	}
	assert.Equal(t, 1, cascaded)
	assert.Equal(t, 1, direct)
}
