// Package exam contains the exam definition model consumed by the attempt
// lifecycle: exams, review policies, and per-user allowances. This is a pure
// domain layer with zero external dependencies. Exam rows are created and
// updated by course authoring; the lifecycle engine only reads them.
package exam

import (
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// ID represents a unique identifier for an exam (UUID in string form).
type ID string

// IsValid checks if the exam ID is non-empty.
func (id ID) IsValid() bool {
	return id != ""
}

// String returns the string representation of the exam ID.
func (id ID) String() string {
	return string(id)
}

// CourseID identifies the course an exam belongs to.
type CourseID string

// IsValid checks if the course ID is non-empty.
func (c CourseID) IsValid() bool {
	return c != ""
}

// String returns the string representation of the course ID.
func (c CourseID) String() string {
	return string(c)
}

// ContentID identifies the content block the exam is attached to.
// The (CourseID, ContentID) pair is unique across all exams.
type ContentID string

// IsValid checks if the content ID is non-empty.
func (c ContentID) IsValid() bool {
	return c != ""
}

// String returns the string representation of the content ID.
func (c ContentID) String() string {
	return string(c)
}

// UserID identifies a learner. The service never sees LMS account details,
// only opaque user identifiers.
type UserID string

// IsValid checks if the user ID is non-empty.
func (u UserID) IsValid() bool {
	return u != ""
}

// String returns the string representation of the user ID.
func (u UserID) String() string {
	return string(u)
}

// BackendName names the proctoring vendor integration behind an exam.
// Empty means "use the default backend".
type BackendName string

// IsDefault reports whether the exam relies on the default backend.
func (b BackendName) IsDefault() bool {
	return b == ""
}

// String returns the string representation of the backend name.
func (b BackendName) String() string {
	return string(b)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: EXAM
// ══════════════════════════════════════════════════════════════════════════════

// Exam is an exam definition keyed by (course, content). The lifecycle engine
// treats it as read-only reference data.
type Exam struct {
	// ID is the internal unique identifier.
	ID ID

	// CourseID is the course this exam belongs to.
	CourseID CourseID

	// ContentID is the content block the exam is attached to.
	// (CourseID, ContentID) is unique.
	ContentID ContentID

	// ExamName is the display name shown to learners and vendors.
	ExamName string

	// TimeLimitMins is the base time limit in whole minutes.
	TimeLimitMins int

	// DueDate is the deadline for taking the exam. Nil means no deadline.
	DueDate *time.Time

	// IsProctored marks the exam as requiring proctoring.
	IsProctored bool

	// IsPracticeExam marks the exam as a practice/onboarding exam.
	// Practice exams allow repeated attempts and never trigger credit,
	// grade, or certificate side effects.
	IsPracticeExam bool

	// IsActive marks whether the exam is currently live.
	IsActive bool

	// HideAfterDue hides exam content from learners after the due date.
	HideAfterDue bool

	// BackendName selects the proctoring vendor integration.
	BackendName BackendName

	// CreatedAt / UpdatedAt are authoring timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDuePassed reports whether the exam's due date is at or before now.
// Exams without a due date are never past due.
func (e *Exam) IsDuePassed(now time.Time) bool {
	return e.DueDate != nil && !e.DueDate.After(now)
}

// IsCascadeTarget reports whether a failure on a sibling exam in the same
// course should propagate to this exam: it must be live, proctored, and a
// real (non-practice) exam.
func (e *Exam) IsCascadeTarget() bool {
	return e.IsActive && e.IsProctored && !e.IsPracticeExam
}

// Validate checks structural invariants of the exam definition.
func (e *Exam) Validate() error {
	switch {
	case !e.ID.IsValid():
		return ErrInvalidExamID
	case !e.CourseID.IsValid():
		return ErrInvalidCourseID
	case !e.ContentID.IsValid():
		return ErrInvalidContentID
	case strings.TrimSpace(e.ExamName) == "":
		return ErrEmptyExamName
	case e.TimeLimitMins < 0:
		return ErrNegativeTimeLimit
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW POLICY
// ══════════════════════════════════════════════════════════════════════════════

// ReviewPolicy is the per-exam review policy text handed to the vendor's
// review team. Read-only to the lifecycle engine.
type ReviewPolicy struct {
	// ID is the internal unique identifier.
	ID string

	// ExamID is the exam this policy applies to (unique per exam).
	ExamID ID

	// Policy is the free-form policy text.
	Policy string

	// SetByUserID records who authored the policy.
	SetByUserID UserID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ALLOWANCE
// ══════════════════════════════════════════════════════════════════════════════

// AllowanceKey names a per-user grant on an exam.
type AllowanceKey string

const (
	// AllowanceAdditionalTime grants extra minutes on top of the exam's
	// time limit. The value is a decimal minute count.
	AllowanceAdditionalTime AllowanceKey = "additional_time_granted"

	// AllowanceReviewPolicyException overrides the exam's review policy
	// for one learner. The value is the exception text.
	AllowanceReviewPolicyException AllowanceKey = "review_policy_exception"
)

// Allowance is a per-(exam, user) grant. Read-only to the lifecycle engine.
type Allowance struct {
	ExamID ID
	UserID UserID
	Key    AllowanceKey
	Value  string

	CreatedAt time.Time
}
