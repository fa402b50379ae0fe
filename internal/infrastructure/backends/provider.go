// Package backends defines the proctoring vendor integration surface.
// Every vendor is wrapped in a Provider implementation; the rest of the
// service only ever talks to the Provider interface and the Registry,
// so swapping vendors is a configuration change, not a code change.
package backends

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// RegistrationRequest carries everything a vendor needs to open a
// proctored session. UserID is already obscured; vendors never see the
// real account identifier.
type RegistrationRequest struct {
	AttemptCode   string
	ObscuredUser  string
	ExamName      string
	CourseID      string
	ContentID     string
	TimeLimitMins int
	ReviewPolicy  string
	IsPractice    bool
}

// RegistrationResult is the vendor's answer to a registration request.
// ExternalID must be non-empty on success.
type RegistrationResult struct {
	ExternalID string
}

// Provider is the capability surface a proctoring vendor exposes.
// Capability getters are static per vendor; the session operations may
// call out over the network and honor the passed context.
type Provider interface {
	// VerboseName is the human-readable vendor name for logs and summaries.
	VerboseName() string

	// PingInterval is how often a live exam session should heartbeat,
	// or zero when the vendor does not require pings.
	PingInterval() time.Duration

	// SupportsOnboarding reports whether the vendor requires a one-time
	// identity onboarding flow before the first proctored exam.
	SupportsOnboarding() bool

	// HasDashboard reports whether the vendor offers a review dashboard.
	HasDashboard() bool

	// ShouldBlockAccessToExamMaterial reports whether exam content must
	// stay hidden until the vendor confirms the session is ready.
	ShouldBlockAccessToExamMaterial() bool

	// RegisterExamAttempt opens a session with the vendor. An
	// *OnboardingError return forces the attempt into an onboarding
	// remediation status instead of failing creation.
	RegisterExamAttempt(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error)

	// StartExamAttempt tells the vendor the learner has entered the exam.
	StartExamAttempt(ctx context.Context, externalID string) error

	// StopExamAttempt tells the vendor the session is over.
	StopExamAttempt(ctx context.Context, externalID string) error

	// MarkErroneousExamAttempt flags the session as broken on the vendor side.
	MarkErroneousExamAttempt(ctx context.Context, externalID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// ONBOARDING ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// OnboardingError is returned from RegisterExamAttempt when the vendor
// refuses the session because the learner's onboarding profile is not
// usable. ForcedStatus tells the creation path which remediation status
// the new attempt should carry.
type OnboardingError struct {
	ForcedStatus attempt.Status
	Message      string
}

func (e *OnboardingError) Error() string {
	return fmt.Sprintf("onboarding: %s (forcing status %s)", e.Message, e.ForcedStatus)
}

// MissingOnboarding reports that the learner never completed onboarding.
func MissingOnboarding(msg string) *OnboardingError {
	return &OnboardingError{ForcedStatus: attempt.StatusOnboardingMissing, Message: msg}
}

// FailedOnboarding reports that the learner's onboarding was reviewed and rejected.
func FailedOnboarding(msg string) *OnboardingError {
	return &OnboardingError{ForcedStatus: attempt.StatusOnboardingFailed, Message: msg}
}

// ExpiredOnboarding reports that a previously approved onboarding has lapsed.
func ExpiredOnboarding(msg string) *OnboardingError {
	return &OnboardingError{ForcedStatus: attempt.StatusOnboardingExpired, Message: msg}
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ID OBSCURING
// ══════════════════════════════════════════════════════════════════════════════

// ObscuredUserID derives the stable pseudonymous identifier sent to
// vendors in place of the real user id. Keyed hashing keeps the mapping
// non-reversible without the service secret while staying deterministic,
// so the same learner maps to the same vendor-side identity across exams.
func ObscuredUserID(userID exam.UserID, secret []byte) (string, error) {
	h, err := blake2b.New256(secret)
	if err != nil {
		return "", fmt.Errorf("init obscuring hash: %w", err)
	}
	h.Write([]byte(userID.String()))
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// Registry resolves a Provider from an exam's backend name. Exams with
// an empty backend name fall through to the default provider. The
// registry is populated once at startup and read-only afterwards.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates an empty registry with the given default backend name.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
	}
}

// Register adds a provider under a backend name. The last registration
// for a name wins.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Resolve returns the provider for the exam's backend, falling back to
// the default when the exam does not name one.
func (r *Registry) Resolve(e *exam.Exam) (Provider, error) {
	name := e.BackendName.String()
	if e.BackendName.IsDefault() {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, shared.WrapError("backend", "Resolve", shared.ErrNotFound,
			fmt.Sprintf("no provider registered for backend %q", name), nil)
	}
	return p, nil
}

// ShouldBlockAccessToExamMaterial reports the material-blocking rule of
// the exam's backend. Unresolvable backends block nothing.
func (r *Registry) ShouldBlockAccessToExamMaterial(e *exam.Exam) bool {
	p, err := r.Resolve(e)
	if err != nil {
		return false
	}
	return p.ShouldBlockAccessToExamMaterial()
}

// PingIntervalSecs reports the heartbeat interval of the exam's backend
// in whole seconds. Unresolvable backends report zero, which clients
// read as "no heartbeat required".
func (r *Registry) PingIntervalSecs(e *exam.Exam) int {
	p, err := r.Resolve(e)
	if err != nil {
		return 0
	}
	return int(p.PingInterval() / time.Second)
}

// Names lists the registered backend names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
