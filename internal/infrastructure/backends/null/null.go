// Package null provides the no-op proctoring backend. It is the default
// for deployments that track proctored attempt state without a live
// vendor integration, and it doubles as the safe fallback in tests.
package null

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
)

// Provider accepts every session and performs no external calls.
type Provider struct{}

// New creates a null provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) VerboseName() string { return "Null Backend" }

func (p *Provider) PingInterval() time.Duration { return 0 }

func (p *Provider) SupportsOnboarding() bool { return false }

func (p *Provider) HasDashboard() bool { return false }

func (p *Provider) ShouldBlockAccessToExamMaterial() bool { return false }

// RegisterExamAttempt mints a local session id so downstream code can
// rely on ExternalID being present for every registered attempt.
func (p *Provider) RegisterExamAttempt(ctx context.Context, req backends.RegistrationRequest) (*backends.RegistrationResult, error) {
	return &backends.RegistrationResult{ExternalID: "null-" + uuid.NewString()}, nil
}

func (p *Provider) StartExamAttempt(ctx context.Context, externalID string) error { return nil }

func (p *Provider) StopExamAttempt(ctx context.Context, externalID string) error { return nil }

func (p *Provider) MarkErroneousExamAttempt(ctx context.Context, externalID string) error {
	return nil
}
