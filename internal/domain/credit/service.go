package credit

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// LMS SERVICE INTERFACES
// Capabilities the attempt lifecycle consumes from the surrounding LMS.
// Implementations live in infrastructure/service; tests use in-memory fakes.
// ══════════════════════════════════════════════════════════════════════════════

// CreditState is a learner's credit requirement statuses in one course.
type CreditState struct {
	CourseID     string
	UserID       string
	Requirements []RequirementStatus
}

// Service reads and writes credit requirement statuses.
type Service interface {
	// GetCreditState returns the learner's credit state in the course.
	GetCreditState(ctx context.Context, courseID, userID string) (*CreditState, error)

	// SetRequirementStatus records the learner's state on one requirement.
	SetRequirementStatus(ctx context.Context, courseID, userID, namespace, name string, state RequirementState) error

	// RemoveRequirementStatus deletes the learner's state on one
	// requirement, e.g. when an attempt is hard-removed.
	RemoveRequirementStatus(ctx context.Context, courseID, userID, namespace, name string) error
}

// GradesService manipulates subsection grade overrides.
type GradesService interface {
	// OverrideSubsectionGrade forces the learner's grade on the exam's
	// subsection to the given earned score (zero for rejection penalties).
	OverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string, earned float64) error

	// UndoOverrideSubsectionGrade removes a previously applied override.
	UndoOverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string) error

	// ShouldOverrideGradeOnRejected reports the course policy on zeroing
	// grades for rejected proctored attempts.
	ShouldOverrideGradeOnRejected(ctx context.Context, courseID string) (bool, error)
}

// CertificatesService invalidates course certificates.
type CertificatesService interface {
	// InvalidateCertificate voids any certificate the learner earned in
	// the course.
	InvalidateCertificate(ctx context.Context, courseID, userID string) error
}
