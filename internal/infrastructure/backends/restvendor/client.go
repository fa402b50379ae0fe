// Package restvendor implements a proctoring backend over a vendor's
// REST API. Session registration, start/stop, and error flagging map to
// vendor endpoints; onboarding refusals are translated into the forced
// remediation statuses the attempt creation path understands.
package restvendor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/backends"
	"github.com/proctorhub/proctoring-service/pkg/circuitbreaker"
	"github.com/proctorhub/proctoring-service/pkg/ratelimit"
	"github.com/proctorhub/proctoring-service/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for a vendor API client.
type ClientConfig struct {
	// Name is the backend name this client is registered under.
	Name string

	// VerboseName is the vendor's display name.
	VerboseName string

	// BaseURL is the vendor API base URL.
	BaseURL string

	// APIKey authenticates requests as a bearer token.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// PingInterval is the heartbeat interval reported to exam sessions.
	PingInterval time.Duration

	// SupportsOnboarding mirrors the vendor's onboarding requirement.
	SupportsOnboarding bool

	// HasDashboard mirrors the vendor's review dashboard availability.
	HasDashboard bool

	// BlockExamMaterial hides exam content until the vendor session is live.
	BlockExamMaterial bool

	// RateLimit bounds the outbound request rate to this vendor.
	RateLimit ratelimit.Config

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(name, baseURL string) ClientConfig {
	return ClientConfig{
		Name:               name,
		VerboseName:        name,
		BaseURL:            baseURL,
		Timeout:            30 * time.Second,
		PingInterval:       time.Minute,
		SupportsOnboarding: true,
		HasDashboard:       true,
		BlockExamMaterial:  true,
		RateLimit:          ratelimit.DefaultConfig(),
		Logger:             slog.Default(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements backends.Provider over the vendor's REST API.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	retrier        *retry.Retrier
	circuitBreaker *circuitbreaker.CircuitBreaker
	limiter        *ratelimit.Limiter
	logger         *slog.Logger
}

// compile-time contract check
var _ backends.Provider = (*Client)(nil)

// NewClient creates a vendor API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RateLimit.RequestsPerSecond <= 0 {
		config.RateLimit = ratelimit.DefaultConfig()
	}
	logger := config.Logger.With("component", "restvendor", "backend", config.Name)
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: ratelimit.New(config.RateLimit),
		retrier: retry.VendorRetrier(),
		circuitBreaker: circuitbreaker.VendorBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("vendor circuit state changed", "circuit", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

func (c *Client) VerboseName() string { return c.config.VerboseName }

func (c *Client) PingInterval() time.Duration { return c.config.PingInterval }

func (c *Client) SupportsOnboarding() bool { return c.config.SupportsOnboarding }

func (c *Client) HasDashboard() bool { return c.config.HasDashboard }

func (c *Client) ShouldBlockAccessToExamMaterial() bool { return c.config.BlockExamMaterial }

// ══════════════════════════════════════════════════════════════════════════════
// SESSION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterExamAttempt opens a vendor session for the attempt. Onboarding
// refusals come back as *backends.OnboardingError so the caller can park
// the attempt in a remediation status instead of failing outright.
func (c *Client) RegisterExamAttempt(ctx context.Context, req backends.RegistrationRequest) (*backends.RegistrationResult, error) {
	payload := registerRequestDTO{
		AttemptCode:   req.AttemptCode,
		UserID:        req.ObscuredUser,
		ExamName:      req.ExamName,
		CourseID:      req.CourseID,
		ContentID:     req.ContentID,
		TimeLimitMins: req.TimeLimitMins,
		ReviewPolicy:  req.ReviewPolicy,
		IsPractice:    req.IsPractice,
	}

	var resp registerResponseDTO
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sessions", payload, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if obErr := apiErr.onboardingError(); obErr != nil {
				return nil, obErr
			}
		}
		return nil, shared.WrapError("backend", "RegisterExamAttempt",
			shared.ErrBackendRegistrationFailed, "vendor session registration failed", err)
	}

	if resp.SessionID == "" {
		return nil, shared.ErrBackendEmptyID
	}

	c.logger.Info("vendor session registered",
		"attempt_code", req.AttemptCode, "external_id", resp.SessionID)
	return &backends.RegistrationResult{ExternalID: resp.SessionID}, nil
}

// StartExamAttempt signals the vendor that the learner entered the exam.
func (c *Client) StartExamAttempt(ctx context.Context, externalID string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/start", externalID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return shared.WrapError("backend", "StartExamAttempt",
			shared.ErrExternalService, "vendor start call failed", err)
	}
	return nil
}

// StopExamAttempt signals the vendor that the session ended.
func (c *Client) StopExamAttempt(ctx context.Context, externalID string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/stop", externalID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return shared.WrapError("backend", "StopExamAttempt",
			shared.ErrExternalService, "vendor stop call failed", err)
	}
	return nil
}

// MarkErroneousExamAttempt flags the session as broken on the vendor side.
func (c *Client) MarkErroneousExamAttempt(ctx context.Context, externalID string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/error", externalID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil); err != nil {
		return shared.WrapError("backend", "MarkErroneousExamAttempt",
			shared.ErrExternalService, "vendor error-flag call failed", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with rate limiting, circuit
// breaking, and retries. Client errors (4xx) are permanent; server
// errors and transport failures are retried with backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.limiter.Allow(ctx); err != nil {
				return retry.Permanent(err)
			}
			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
				c.limiter.RecordThrottle(apiErr.retryAfter())
			}
			if isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP round trip.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.Debug {
		c.logger.Debug("vendor api request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("vendor api error: status %d", resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable reports whether a request should be attempted again.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	// Transport-level failures (timeouts, connection resets) are retryable.
	return true
}
