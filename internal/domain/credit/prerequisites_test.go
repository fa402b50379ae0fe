package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func req(namespace, name string, order int, state RequirementState) RequirementStatus {
	return RequirementStatus{
		Namespace: namespace,
		Name:      name,
		Order:     order,
		Status:    state,
	}
}

func TestPrerequisitesSortedAndTruncatedBeforeTarget(t *testing.T) {
	// Deliberately out of declared order.
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-c", 3, RequirementPending),
		req("proctored_exam", "exam-a", 1, RequirementSatisfied),
		req("proctored_exam", "exam-b", 2, RequirementSatisfied),
	}

	p := EvaluatePrerequisites(statuses, "exam-c", nil)

	require.Len(t, p.Satisfied, 2)
	assert.Equal(t, "exam-a", p.Satisfied[0].Name)
	assert.Equal(t, "exam-b", p.Satisfied[1].Name)
	assert.Empty(t, p.Pending, "the target itself is not a prerequisite")
	assert.True(t, p.AreSatisfied())
}

func TestPrerequisitesExcludedNamespacesDropped(t *testing.T) {
	statuses := []RequirementStatus{
		req("grade", "min-grade", 1, RequirementFailed),
		req("proctored_exam", "exam-a", 2, RequirementSatisfied),
		req("proctored_exam", "exam-b", 3, RequirementPending),
	}

	p := EvaluatePrerequisites(statuses, "exam-b", []string{"grade"})

	assert.Empty(t, p.Failed, "excluded namespace must not count")
	require.Len(t, p.Satisfied, 1)
	assert.True(t, p.AreSatisfied())
}

func TestPrerequisitesTargetAbsentKeepsAll(t *testing.T) {
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-a", 1, RequirementSatisfied),
		req("proctored_exam", "exam-b", 2, RequirementFailed),
	}

	p := EvaluatePrerequisites(statuses, "exam-zz", nil)

	assert.Len(t, p.Satisfied, 1)
	assert.Len(t, p.Failed, 1)
	assert.False(t, p.AreSatisfied())
}

func TestPrerequisitesDeclinedBlocksSatisfaction(t *testing.T) {
	// One declined entry before the target, rest satisfied.
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-a", 1, RequirementSatisfied),
		req("proctored_exam", "exam-b", 2, RequirementDeclined),
		req("proctored_exam", "exam-c", 3, RequirementSatisfied),
		req("proctored_exam", "exam-d", 4, RequirementPending),
	}

	p := EvaluatePrerequisites(statuses, "exam-d", nil)

	assert.False(t, p.AreSatisfied())
	require.Len(t, p.Declined, 1)
	assert.Equal(t, "exam-b", p.Declined[0].Name)
	assert.Empty(t, p.Failed)
	assert.Empty(t, p.Pending)
}

func TestPrerequisitesEmptyStatusCountsAsPending(t *testing.T) {
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-a", 1, ""),
		req("proctored_exam", "exam-b", 2, RequirementSatisfied),
	}

	p := EvaluatePrerequisites(statuses, "exam-b", nil)

	require.Len(t, p.Pending, 1)
	assert.Equal(t, "exam-a", p.Pending[0].Name)
	assert.False(t, p.AreSatisfied())
}

func TestPrerequisitesSubmittedCountsAsSatisfied(t *testing.T) {
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-a", 1, RequirementSubmitted),
		req("proctored_exam", "exam-b", 2, RequirementPending),
	}

	p := EvaluatePrerequisites(statuses, "exam-b", nil)

	assert.Len(t, p.Satisfied, 1)
	assert.True(t, p.AreSatisfied())
}

func TestPrerequisitesPartitionPreservesRelativeOrder(t *testing.T) {
	statuses := []RequirementStatus{
		req("proctored_exam", "exam-d", 4, RequirementFailed),
		req("proctored_exam", "exam-b", 2, RequirementFailed),
		req("proctored_exam", "exam-a", 1, RequirementFailed),
		req("proctored_exam", "exam-c", 3, RequirementFailed),
	}

	p := EvaluatePrerequisites(statuses, "exam-zz", nil)

	require.Len(t, p.Failed, 4)
	for i, want := range []string{"exam-a", "exam-b", "exam-c", "exam-d"} {
		assert.Equal(t, want, p.Failed[i].Name)
	}
}
