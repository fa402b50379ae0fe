// Package restvendor implements a proctoring backend over a vendor's
// REST API. Session registration, start/stop, and error flagging map to
// vendor endpoints; onboarding refusals are translated into the forced
// remediation statuses the attempt creation path understands.
package restvendor

import (
	"fmt"
	"time"

	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// registerRequestDTO is the payload for opening a vendor session.
type registerRequestDTO struct {
	AttemptCode   string `json:"attempt_code"`
	UserID        string `json:"user_id"`
	ExamName      string `json:"exam_name"`
	CourseID      string `json:"course_id"`
	ContentID     string `json:"content_id"`
	TimeLimitMins int    `json:"time_limit_mins"`
	ReviewPolicy  string `json:"review_policy,omitempty"`
	IsPractice    bool   `json:"is_practice"`
}

// registerResponseDTO is the vendor's answer to session registration.
type registerResponseDTO struct {
	SessionID string `json:"session_id"`
}

// ══════════════════════════════════════════════════════════════════════════════
// API ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Onboarding refusal codes the vendor may return on registration.
const (
	codeOnboardingMissing = "ONBOARDING_MISSING"
	codeOnboardingFailed  = "ONBOARDING_FAILED"
	codeOnboardingExpired = "ONBOARDING_EXPIRED"
)

// APIError represents an error response from the vendor API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`

	// RetryAfterSecs carries the vendor's throttle hint on 429 responses.
	RetryAfterSecs int `json:"retry_after"`
}

// retryAfter converts the vendor's throttle hint to a duration.
func (e *APIError) retryAfter() time.Duration {
	return time.Duration(e.RetryAfterSecs) * time.Second
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vendor api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vendor api error (status %d): %s", e.StatusCode, e.Message)
}

// onboardingError maps vendor onboarding refusal codes to the forced
// statuses the creation path applies. Returns nil for everything else.
func (e *APIError) onboardingError() *backends.OnboardingError {
	switch e.Code {
	case codeOnboardingMissing:
		return backends.MissingOnboarding(e.Message)
	case codeOnboardingFailed:
		return backends.FailedOnboarding(e.Message)
	case codeOnboardingExpired:
		return backends.ExpiredOnboarding(e.Message)
	default:
		return nil
	}
}
