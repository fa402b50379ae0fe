package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
)

// createFixture layers the creation handler over the funnel fixture so
// resume retirement goes through the real status funnel.
type createFixture struct {
	*funnelFixture
	policies *fakePolicyStore
	create   *CreateExamAttemptHandler
}

func newCreateFixture(exams ...*exam.Exam) *createFixture {
	f := newFunnelFixture(UpdateAttemptStatusConfig{AllowTimedOutState: true}, exams...)
	cf := &createFixture{
		funnelFixture: f,
		policies:      &fakePolicyStore{policies: map[exam.ID]*exam.ReviewPolicy{}},
	}
	cf.create = NewCreateExamAttemptHandler(
		f.attempts, f.exams, cf.policies, f.allow, f.handler,
		newTestRegistry(f.provider), f.events, f.clock, discardLogger(),
		[]byte("test-secret"))
	return cf
}

func (f *createFixture) createAttempt(t *testing.T, examID exam.ID, userID exam.UserID, proctored bool) *CreateExamAttemptResult {
	t.Helper()
	result, err := f.create.Handle(context.Background(), CreateExamAttemptCommand{
		ExamID:            examID,
		UserID:            userID,
		TakingAsProctored: proctored,
	})
	require.NoError(t, err)
	return result
}

func TestCreateProctoredAttemptRegistersWithVendor(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)
	f.policies.policies[e.ID] = &exam.ReviewPolicy{ID: "policy-1", ExamID: e.ID, Policy: "no headphones"}
	f.allow.allowances = []*exam.Allowance{
		{ExamID: e.ID, UserID: "user-1", Key: exam.AllowanceAdditionalTime, Value: "15"},
	}

	result := f.createAttempt(t, e.ID, "user-1", true)

	assert.Equal(t, attempt.StatusCreated, result.Status)
	assert.Len(t, result.AttemptCode, 32, "16 random bytes, hex encoded")

	stored := f.attempts.mustGet(result.AttemptID)
	assert.Equal(t, "ext-1", stored.ExternalID)
	assert.Equal(t, "policy-1", stored.ReviewPolicyID)
	assert.True(t, stored.TakingAsProctored)

	require.Len(t, f.provider.registered, 1)
	req := f.provider.registered[0]
	assert.Equal(t, result.AttemptCode, req.AttemptCode)
	assert.Equal(t, 45, req.TimeLimitMins, "allowance minutes are included in the vendor registration")
	assert.Equal(t, "no headphones", req.ReviewPolicy)
	assert.NotEqual(t, "user-1", req.ObscuredUser, "vendors never see the real user id")
	assert.Len(t, req.ObscuredUser, 32)
}

func TestCreateNonProctoredAttemptSkipsVendor(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)

	result := f.createAttempt(t, e.ID, "user-1", false)

	stored := f.attempts.mustGet(result.AttemptID)
	assert.Empty(t, stored.ExternalID)
	assert.Empty(t, f.provider.registered)
}

func TestCreateRefusesSecondActiveAttempt(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)
	f.createAttempt(t, e.ID, "user-1", true)

	_, err := f.create.Handle(context.Background(), CreateExamAttemptCommand{
		ExamID: e.ID, UserID: "user-1", TakingAsProctored: true,
	})
	require.Error(t, err)
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestCreateProctoredRefusedPastDue(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	due := baseTime.Add(-time.Minute)
	e.DueDate = &due
	f := newCreateFixture(e)

	_, err := f.create.Handle(context.Background(), CreateExamAttemptCommand{
		ExamID: e.ID, UserID: "user-1", TakingAsProctored: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPastDue)

	// The non-proctored path stays open after the due date.
	f.createAttempt(t, e.ID, "user-1", false)
}

func TestCreatePracticeExamAllowsRepeatedAttempts(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	e.IsPracticeExam = true
	f := newCreateFixture(e)

	first := f.createAttempt(t, e.ID, "user-1", true)
	second := f.createAttempt(t, e.ID, "user-1", true)

	assert.NotEqual(t, first.AttemptID, second.AttemptID)
	assert.True(t, f.attempts.mustGet(second.AttemptID).IsSamplePractice)
}

func TestCreateResumesErroredAttemptWithCarryOver(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)

	old := testAttempt("old", e, "user-1", attempt.StatusReadyToResume)
	startedAt := baseTime
	old.StartedAt = &startedAt
	old.AllowedTimeLimitMins = 30
	f.seed(old)

	f.clock.Advance(10 * time.Minute)
	result := f.createAttempt(t, e.ID, "user-1", true)

	assert.Equal(t, old.ID, result.ResumedFrom)
	assert.Equal(t, attempt.StatusResumed, f.attempts.mustGet(old.ID).Status,
		"the predecessor is retired through the funnel")

	stored := f.attempts.mustGet(result.AttemptID)
	require.NotNil(t, stored.TimeRemainingSeconds)
	assert.Equal(t, 20*60, *stored.TimeRemainingSeconds, "20 of 30 minutes were unused")

	require.Len(t, f.provider.registered, 1)
	assert.Equal(t, 20, f.provider.registered[0].TimeLimitMins,
		"the vendor sees the carried-over minutes, not the base limit")
}

func TestCreateResumeFloorsExpiredCarryOverAtZero(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)

	old := testAttempt("old", e, "user-1", attempt.StatusReadyToResume)
	startedAt := baseTime
	old.StartedAt = &startedAt
	old.AllowedTimeLimitMins = 30
	f.seed(old)

	f.clock.Advance(45 * time.Minute)
	result := f.createAttempt(t, e.ID, "user-1", true)

	stored := f.attempts.mustGet(result.AttemptID)
	require.NotNil(t, stored.TimeRemainingSeconds)
	assert.Equal(t, 0, *stored.TimeRemainingSeconds)
}

func TestCreateParksAttemptOnOnboardingRefusal(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)
	f.provider.registerErr = backends.MissingOnboarding("no profile on record")

	result := f.createAttempt(t, e.ID, "user-1", true)

	assert.Equal(t, attempt.StatusOnboardingMissing, result.Status)
	stored := f.attempts.mustGet(result.AttemptID)
	assert.Equal(t, attempt.StatusOnboardingMissing, stored.Status)
	assert.Empty(t, stored.ExternalID)
}

func TestCreateFailsOnEmptyVendorID(t *testing.T) {
	e := proctoredExam("exam-1", "course-1", "block-1")
	f := newCreateFixture(e)
	f.provider.externalID = ""

	_, err := f.create.Handle(context.Background(), CreateExamAttemptCommand{
		ExamID: e.ID, UserID: "user-1", TakingAsProctored: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrBackendNoAttemptID)

	attempts, _ := f.attempts.ListForUserExam(context.Background(), e.ID, "user-1")
	assert.Empty(t, attempts, "a refused registration creates no row")
}
