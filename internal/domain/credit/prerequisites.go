// Package credit contains the credit-requirement model the attempt lifecycle
// pushes outcomes into, and the prerequisite evaluator that orders and
// classifies a learner's credit requirements ahead of a target exam.
// This is a pure domain layer with zero external dependencies.
package credit

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUIREMENT MODEL
// ══════════════════════════════════════════════════════════════════════════════

// RequirementState is the per-learner state of one credit requirement.
type RequirementState string

const (
	RequirementSatisfied RequirementState = "satisfied"
	RequirementSubmitted RequirementState = "submitted"
	RequirementFailed    RequirementState = "failed"
	RequirementDeclined  RequirementState = "declined"
	// RequirementPending covers requirements with no recorded outcome yet.
	RequirementPending RequirementState = "pending"
)

// NamespaceProctoredExam is the requirement namespace the attempt
// lifecycle writes exam outcomes into.
const NamespaceProctoredExam = "proctored_exam"

// RequirementStatus is one credit requirement with the learner's state on it.
type RequirementStatus struct {
	// Namespace groups requirements by kind (e.g. "proctored_exam", "grade").
	Namespace string

	// Name uniquely identifies the requirement within the course, typically
	// the exam's content ID.
	Name string

	// DisplayName is the human-readable requirement name.
	DisplayName string

	// Order is the declared position of the requirement in the course.
	Order int

	// Status is the learner's state on this requirement. Empty counts as
	// pending.
	Status RequirementState
}

// effective returns the state with the empty-means-pending rule applied.
func (r RequirementStatus) effective() RequirementState {
	if r.Status == "" {
		return RequirementPending
	}
	return r.Status
}

// ══════════════════════════════════════════════════════════════════════════════
// PREREQUISITE EVALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// Prerequisites is the classified view of the requirements standing strictly
// before a target requirement. Each slice preserves the requirements' declared
// relative order.
type Prerequisites struct {
	Satisfied []RequirementStatus
	Failed    []RequirementStatus
	Pending   []RequirementStatus
	Declined  []RequirementStatus
}

// AreSatisfied reports whether every prerequisite is out of the way: no
// failed, pending, or declined entries remain.
func (p Prerequisites) AreSatisfied() bool {
	return len(p.Failed) == 0 && len(p.Pending) == 0 && len(p.Declined) == 0
}

// EvaluatePrerequisites classifies the credit requirements standing before the
// target requirement. It sorts the (unordered) input by declared order, drops
// excluded namespaces, truncates to entries strictly before the target's
// position (or keeps all when the target is absent), and partitions by state
// preserving relative order. Submitted requirements count as satisfied for
// gating purposes - the outcome is in flight, not missing.
func EvaluatePrerequisites(statuses []RequirementStatus, targetName string, excludedNamespaces []string) Prerequisites {
	ordered := make([]RequirementStatus, len(statuses))
	copy(ordered, statuses)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	excluded := make(map[string]bool, len(excludedNamespaces))
	for _, ns := range excludedNamespaces {
		excluded[ns] = true
	}

	filtered := ordered[:0]
	for _, r := range ordered {
		if !excluded[r.Namespace] {
			filtered = append(filtered, r)
		}
	}

	upto := len(filtered)
	for i, r := range filtered {
		if r.Name == targetName {
			upto = i
			break
		}
	}

	var out Prerequisites
	for _, r := range filtered[:upto] {
		switch r.effective() {
		case RequirementSatisfied, RequirementSubmitted:
			out.Satisfied = append(out.Satisfied, r)
		case RequirementFailed:
			out.Failed = append(out.Failed, r)
		case RequirementDeclined:
			out.Declined = append(out.Declined, r)
		default:
			out.Pending = append(out.Pending, r)
		}
	}
	return out
}
