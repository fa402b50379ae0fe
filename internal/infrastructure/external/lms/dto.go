// Package lms implements the LMS platform API client. This package
// handles all communication with the learning management system:
// credit requirement statuses, subsection grade overrides, certificate
// invalidation, and learner status emails.
package lms

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// CREDIT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// RequirementStatusDTO is one credit requirement as returned by the LMS.
type RequirementStatusDTO struct {
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Order       int    `json:"order"`
	Status      string `json:"status"`
}

// CreditStateDTO is a learner's full credit state in a course.
type CreditStateDTO struct {
	CourseID     string                 `json:"course_id"`
	UserID       string                 `json:"user_id"`
	Requirements []RequirementStatusDTO `json:"requirements"`
}

// RequirementUpdateDTO records a learner's state on one requirement.
type RequirementUpdateDTO struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADES AND POLICY DTOs
// ══════════════════════════════════════════════════════════════════════════════

// GradeOverrideDTO is the payload for forcing a subsection grade.
type GradeOverrideDTO struct {
	EarnedAll float64 `json:"earned_all"`
}

// CoursePolicyDTO carries course-level proctoring policy flags.
type CoursePolicyDTO struct {
	CourseID                string `json:"course_id"`
	OverrideGradeOnRejected bool   `json:"override_grade_on_rejected"`
}

// ══════════════════════════════════════════════════════════════════════════════
// EMAIL DTO
// ══════════════════════════════════════════════════════════════════════════════

// EmailDTO is the payload for the LMS mail relay.
type EmailDTO struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ══════════════════════════════════════════════════════════════════════════════
// API ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents an error response from the LMS API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lms api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("lms api error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the LMS answered 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}
