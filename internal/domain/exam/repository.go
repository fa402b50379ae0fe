package exam

import (
	"context"
	"errors"
	"strconv"
)

// Domain errors for the exam package.
var (
	ErrInvalidExamID     = errors.New("exam: invalid exam ID")
	ErrInvalidCourseID   = errors.New("exam: invalid course ID")
	ErrInvalidContentID  = errors.New("exam: invalid content ID")
	ErrEmptyExamName     = errors.New("exam: exam name cannot be empty")
	ErrNegativeTimeLimit = errors.New("exam: time limit cannot be negative")
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACES
// These interfaces define the contract for exam reference data.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store defines read access to exam definitions.
type Store interface {
	// GetByID returns the exam with the given ID.
	// Returns shared.ErrExamNotFound if the exam does not exist.
	GetByID(ctx context.Context, id ID) (*Exam, error)

	// GetByContentID returns the exam attached to (course, content).
	// Returns shared.ErrExamNotFound if the exam does not exist.
	GetByContentID(ctx context.Context, courseID CourseID, contentID ContentID) (*Exam, error)

	// ListForCourse returns all exams in a course. Used by the failure
	// cascade to find sibling proctored exams.
	ListForCourse(ctx context.Context, courseID CourseID) ([]*Exam, error)
}

// ReviewPolicyStore defines read access to per-exam review policies.
type ReviewPolicyStore interface {
	// GetForExam returns the review policy for an exam.
	// Returns shared.ErrPolicyNotFound if no policy is set.
	GetForExam(ctx context.Context, examID ID) (*ReviewPolicy, error)
}

// AllowanceStore defines read access to per-user grants.
type AllowanceStore interface {
	// Get returns the allowance value for (exam, user, key).
	// Returns shared.ErrNotFound-kinded error if absent.
	Get(ctx context.Context, examID ID, userID UserID, key AllowanceKey) (*Allowance, error)

	// ListForUserExam returns every allowance for (exam, user).
	ListForUserExam(ctx context.Context, examID ID, userID UserID) ([]*Allowance, error)
}

// AdditionalTimeMins extracts the standing extra-minutes grant from a set of
// allowances. Unparsable or missing values count as zero.
func AdditionalTimeMins(allowances []*Allowance) int {
	for _, a := range allowances {
		if a.Key != AllowanceAdditionalTime {
			continue
		}
		if mins, err := strconv.Atoi(a.Value); err == nil && mins > 0 {
			return mins
		}
	}
	return 0
}

// ReviewPolicyException extracts the per-user review policy exception, if any.
func ReviewPolicyException(allowances []*Allowance) (string, bool) {
	for _, a := range allowances {
		if a.Key == AllowanceReviewPolicyException && a.Value != "" {
			return a.Value, true
		}
	}
	return "", false
}
