package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles. Supports gradual rollout, per-user
// overrides, and course-scoped targeting, so lifecycle behavior changes can
// be introduced mid-term without redeploying.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[string]map[string]bool // userID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Course targeting. Empty means all courses.
	TargetCourses []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID   string // opaque LMS user ID
	CourseID string // course being evaluated
	IsAdmin  bool   // staff users
}

// Predefined feature flag names.
const (
	// === Lifecycle Features ===

	// FeatureTimedOutState routes expired attempts through the explicit
	// timed_out status instead of jumping straight to submitted.
	FeatureTimedOutState = "lifecycle.timed_out_state"

	// FeatureInlineTimeoutCheck times out overdue attempts on the summary
	// read. Fallback for deployments without the expiry sweep.
	FeatureInlineTimeoutCheck = "lifecycle.inline_timeout_check"

	// === Side-Effect Features ===

	// FeatureStatusEmails sends learners an email on submitted, verified,
	// and rejected transitions.
	FeatureStatusEmails = "effects.status_emails"

	// FeatureGradeOverrides applies and undoes subsection grade overrides
	// on rejected/verified transitions. Kill switch over the course policy.
	FeatureGradeOverrides = "effects.grade_overrides"

	// FeatureCertificateInvalidation voids certificates on rejection.
	FeatureCertificateInvalidation = "effects.certificate_invalidation"

	// === Read-Side Features ===

	// FeatureSummaryCache serves the status poll from Redis.
	FeatureSummaryCache = "readside.summary_cache"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureTimedOutState] = &Feature{
		Name:           FeatureTimedOutState,
		Description:    "Route expired attempts through timed_out",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureInlineTimeoutCheck] = &Feature{
		Name:           FeatureInlineTimeoutCheck,
		Description:    "Time out overdue attempts on the summary read",
		Enabled:        false, // the expiry sweep is the primary mechanism
		RolloutPercent: 0,
	}

	ff.features[FeatureStatusEmails] = &Feature{
		Name:           FeatureStatusEmails,
		Description:    "Email learners on attempt completion statuses",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureGradeOverrides] = &Feature{
		Name:           FeatureGradeOverrides,
		Description:    "Zero grades on rejected attempts per course policy",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCertificateInvalidation] = &Feature{
		Name:           FeatureCertificateInvalidation,
		Description:    "Invalidate certificates on rejected attempts",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSummaryCache] = &Feature{
		Name:           FeatureSummaryCache,
		Description:    "Serve attempt status polls from Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_LIFECYCLE_INLINE_TIMEOUT_CHECK=true
// Example: FEATURE_READSIDE_SUMMARY_CACHE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "lifecycle.timed_out_state" -> "FEATURE_LIFECYCLE_TIMED_OUT_STATE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check user overrides first
	if ctx != nil && ctx.UserID != "" {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check course targeting
	if len(feature.TargetCourses) > 0 && ctx != nil && ctx.CourseID != "" {
		courseMatch := false
		for _, c := range feature.TargetCourses {
			if c == ctx.CourseID {
				courseMatch = true
				break
			}
		}
		if !courseMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return ff.isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func (ff *FeatureFlags) isInRollout(userID string, featureName string, percent int) bool {
	// Create a consistent hash for this user+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID string, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
