// Package lms implements the LMS platform API client. This package
// handles all communication with the learning management system:
// credit requirement statuses, subsection grade overrides, certificate
// invalidation, and learner status emails.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/proctorhub/proctoring-service/pkg/circuitbreaker"
	"github.com/proctorhub/proctoring-service/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the LMS API client.
type ClientConfig struct {
	// BaseURL is the LMS API base URL.
	BaseURL string

	// APIKey authenticates requests as a bearer token.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
		Logger:  slog.Default(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the LMS REST API.
type Client struct {
	config         ClientConfig
	httpClient     *http.Client
	retrier        *retry.Retrier
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *slog.Logger
}

// NewClient creates an LMS API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "lms-client")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retrier: retry.LMSRetrier(),
		circuitBreaker: circuitbreaker.LMSBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("lms circuit state changed", "circuit", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDIT REQUIREMENTS
// ══════════════════════════════════════════════════════════════════════════════

// GetCreditState fetches the learner's credit requirement statuses in a course.
func (c *Client) GetCreditState(ctx context.Context, courseID, userID string) (*CreditStateDTO, error) {
	path := fmt.Sprintf("/api/credit/v1/courses/%s/users/%s/requirements",
		url.PathEscape(courseID), url.PathEscape(userID))
	var dto CreditStateDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// SetRequirementStatus records the learner's state on one credit requirement.
func (c *Client) SetRequirementStatus(ctx context.Context, courseID, userID string, req RequirementUpdateDTO) error {
	path := fmt.Sprintf("/api/credit/v1/courses/%s/users/%s/requirements",
		url.PathEscape(courseID), url.PathEscape(userID))
	return c.doRequest(ctx, http.MethodPut, path, req, nil)
}

// RemoveRequirementStatus deletes the learner's state on one credit requirement.
func (c *Client) RemoveRequirementStatus(ctx context.Context, courseID, userID, namespace, name string) error {
	path := fmt.Sprintf("/api/credit/v1/courses/%s/users/%s/requirements/%s/%s",
		url.PathEscape(courseID), url.PathEscape(userID),
		url.PathEscape(namespace), url.PathEscape(name))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADES
// ══════════════════════════════════════════════════════════════════════════════

// OverrideSubsectionGrade forces the learner's grade on a subsection.
func (c *Client) OverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string, earned float64) error {
	path := fmt.Sprintf("/api/grades/v1/courses/%s/users/%s/subsections/%s/override",
		url.PathEscape(courseID), url.PathEscape(userID), url.PathEscape(contentID))
	return c.doRequest(ctx, http.MethodPost, path, GradeOverrideDTO{EarnedAll: earned}, nil)
}

// UndoOverrideSubsectionGrade removes a previously applied grade override.
func (c *Client) UndoOverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string) error {
	path := fmt.Sprintf("/api/grades/v1/courses/%s/users/%s/subsections/%s/override",
		url.PathEscape(courseID), url.PathEscape(userID), url.PathEscape(contentID))
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// GetCoursePolicy fetches course-level proctoring policy flags.
func (c *Client) GetCoursePolicy(ctx context.Context, courseID string) (*CoursePolicyDTO, error) {
	path := fmt.Sprintf("/api/courses/v1/%s/proctoring_policy", url.PathEscape(courseID))
	var dto CoursePolicyDTO
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATES
// ══════════════════════════════════════════════════════════════════════════════

// InvalidateCertificate voids the learner's certificate in the course.
func (c *Client) InvalidateCertificate(ctx context.Context, courseID, userID string) error {
	path := fmt.Sprintf("/api/certificates/v1/courses/%s/users/%s/invalidate",
		url.PathEscape(courseID), url.PathEscape(userID))
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// EMAIL
// ══════════════════════════════════════════════════════════════════════════════

// SendEmail delivers a learner email through the LMS mail relay.
func (c *Client) SendEmail(ctx context.Context, req EmailDTO) error {
	return c.doRequest(ctx, http.MethodPost, "/api/mail/v1/send", req, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// HealthCheck probes the LMS heartbeat endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/heartbeat", nil, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request with circuit breaking and retries.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
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
		c.logger.Debug("lms api request", "method", method, "path", path)
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
			apiErr.Message = fmt.Sprintf("lms api error: status %d", resp.StatusCode)
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
	return true
}
