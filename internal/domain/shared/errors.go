// Package shared contains common domain types, errors, and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	// Lifecycle errors
	ErrIllegalStatusTransition = errors.New("illegal status transition")
	ErrInvalidState            = errors.New("invalid state")
	ErrPastDue                 = errors.New("past due date")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure")

	// Backend provider errors
	ErrBackendRegistrationFailed = errors.New("backend registration failed")
	ErrBackendNoAttemptID        = errors.New("backend returned no attempt id")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "attempt", "exam", "credit"
	Op      string // Operation that failed, e.g., "Create", "UpdateStatus"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Exam domain errors
var (
	ErrExamNotFound     = NewDomainError("exam", "Find", ErrNotFound, "exam not found")
	ErrExamNotActive    = NewDomainError("exam", "CheckStatus", ErrInvalidState, "exam is not active")
	ErrExamNotProctored = NewDomainError("exam", "CheckStatus", ErrInvalidState, "exam is not proctored")
	ErrExamNotPractice  = NewDomainError("exam", "Reset", ErrPermissionDenied, "exam is not a practice exam")
	ErrPolicyNotFound   = NewDomainError("exam", "FindPolicy", ErrNotFound, "review policy not found")
)

// Attempt domain errors
var (
	ErrAttemptNotFound       = NewDomainError("attempt", "Find", ErrNotFound, "attempt not found")
	ErrAttemptAlreadyExists  = NewDomainError("attempt", "Create", ErrAlreadyExists, "an active attempt already exists for this exam and user")
	ErrIllegalTransition     = NewDomainError("attempt", "UpdateStatus", ErrIllegalStatusTransition, "status transition is not allowed")
	ErrPastDueProctoredExam  = NewDomainError("attempt", "Create", ErrPastDue, "cannot take a proctored exam after its due date")
	ErrAttemptFieldProtected = NewDomainError("attempt", "Update", ErrPermissionDenied, "attempt field may only be mutated through the status funnel")
	ErrAttemptVersionStale   = NewDomainError("attempt", "Update", ErrOptimisticLock, "attempt was modified concurrently")
)

// Backend provider errors
var (
	ErrBackendNotFound     = NewDomainError("backend", "Resolve", ErrNotFound, "no backend provider registered under this name")
	ErrBackendRegistration = NewDomainError("backend", "Register", ErrBackendRegistrationFailed, "vendor refused to register the attempt")
	ErrBackendEmptyID      = NewDomainError("backend", "Register", ErrBackendNoAttemptID, "vendor returned an empty attempt id")
)

// Credit domain errors
var (
	ErrRequirementNotFound = NewDomainError("credit", "Find", ErrNotFound, "credit requirement not found")
)

// Notification domain errors
var (
	ErrNotificationFailed = NewDomainError("notification", "Send", ErrExternalService, "failed to deliver status notification")
)

// External service errors
var (
	ErrLMSUnavailable    = NewDomainError("lms", "Request", ErrServiceUnavailable, "LMS is unavailable")
	ErrLMSTimeout        = NewDomainError("lms", "Request", ErrTimeout, "LMS request timeout")
	ErrVendorUnavailable = NewDomainError("vendor", "Request", ErrServiceUnavailable, "proctoring vendor is unavailable")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsIllegalTransition checks if the error is an illegal status transition.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalStatusTransition)
}

// IsPermissionDenied checks if the error is a permission error.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsOptimisticLock checks if the error is an optimistic concurrency failure.
func IsOptimisticLock(err error) bool {
	return errors.Is(err, ErrOptimisticLock) || errors.Is(err, ErrConcurrentModification)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}
