// Package attempt contains the exam attempt lifecycle: the attempt entity,
// the status state machine, the authority rule gating downstream side effects,
// and the allowed-time arithmetic. This is the core of the proctoring service;
// attempts are mutated exclusively through the status funnel in the
// application layer.
package attempt

import (
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/exam"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS ENUM
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle status of an exam attempt.
type Status string

const (
	// StatusCreated - attempt row exists, learner has not begun.
	StatusCreated Status = "created"
	// StatusDownloadClicked - learner clicked through to the vendor software.
	StatusDownloadClicked Status = "download_software_clicked"
	// StatusReadyToStart - vendor checks passed, exam may begin.
	StatusReadyToStart Status = "ready_to_start"
	// StatusStarted - exam clock is running.
	StatusStarted Status = "started"
	// StatusReadyToSubmit - learner finished answering, confirmation pending.
	StatusReadyToSubmit Status = "ready_to_submit"
	// StatusSubmitted - exam turned in, awaiting review.
	StatusSubmitted Status = "submitted"
	// StatusSecondReviewRequired - vendor review escalated to a second pass.
	StatusSecondReviewRequired Status = "second_review_required"
	// StatusVerified - review passed, attempt counts.
	StatusVerified Status = "verified"
	// StatusRejected - review failed.
	StatusRejected Status = "rejected"
	// StatusDeclined - learner declined proctoring, or a sibling failure cascaded here.
	StatusDeclined Status = "declined"
	// StatusTimedOut - time limit elapsed before submission.
	StatusTimedOut Status = "timed_out"
	// StatusError - proctoring session hit a technical error; resumable.
	StatusError Status = "error"
	// StatusReadyToResume - staff cleared an errored attempt for resumption.
	StatusReadyToResume Status = "ready_to_resume"
	// StatusResumed - a successor attempt has been created from this one.
	StatusResumed Status = "resumed"
	// StatusOnboardingMissing - vendor has no onboarding profile for the learner.
	StatusOnboardingMissing Status = "onboarding_missing"
	// StatusOnboardingFailed - vendor rejected the learner's onboarding profile.
	StatusOnboardingFailed Status = "onboarding_failed"
	// StatusOnboardingExpired - the learner's onboarding profile has expired.
	StatusOnboardingExpired Status = "onboarding_expired"
)

// completedStatuses are a terminal sink: once in a completed status an attempt
// can never move back to an incomplete one.
var completedStatuses = map[Status]bool{
	StatusSubmitted:            true,
	StatusSecondReviewRequired: true,
	StatusVerified:             true,
	StatusRejected:             true,
	StatusDeclined:             true,
	StatusTimedOut:             true,
}

// resumeStatuses are the statuses an existing current attempt may be in for a
// new attempt to resume it (and the only legal sources of StatusResumed).
var resumeStatuses = map[Status]bool{
	StatusReadyToResume: true,
	StatusResumed:       true,
}

// cascadableFailures propagate a decline to sibling proctored exams in the course.
var cascadableFailures = map[Status]bool{
	StatusDeclined: true,
	StatusRejected: true,
	StatusError:    true,
}

// emailStatuses are the statuses whose entry produces a learner-facing email.
var emailStatuses = map[Status]bool{
	StatusSubmitted: true,
	StatusVerified:  true,
	StatusRejected:  true,
}

// onboardingStatuses are remediation statuses forced at creation time when the
// vendor reports an onboarding profile issue.
var onboardingStatuses = map[Status]bool{
	StatusOnboardingMissing: true,
	StatusOnboardingFailed:  true,
	StatusOnboardingExpired: true,
}

// allStatuses enumerates every valid status, for validation and table tests.
var allStatuses = []Status{
	StatusCreated, StatusDownloadClicked, StatusReadyToStart, StatusStarted,
	StatusReadyToSubmit, StatusSubmitted, StatusSecondReviewRequired,
	StatusVerified, StatusRejected, StatusDeclined, StatusTimedOut,
	StatusError, StatusReadyToResume, StatusResumed,
	StatusOnboardingMissing, StatusOnboardingFailed, StatusOnboardingExpired,
}

// AllStatuses returns every valid status value.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// IsValid checks that the status is one of the known values.
func (s Status) IsValid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// statusDescriptions are the short learner-facing phrases the summary
// endpoint surfaces next to the raw status value.
var statusDescriptions = map[Status]string{
	StatusCreated:              "Attempt created",
	StatusDownloadClicked:      "Proctoring software download started",
	StatusReadyToStart:         "Ready to start",
	StatusStarted:              "Exam in progress",
	StatusReadyToSubmit:        "Ready to submit",
	StatusSubmitted:            "Submitted, awaiting review",
	StatusSecondReviewRequired: "Under additional review",
	StatusVerified:             "Review passed",
	StatusRejected:             "Review failed",
	StatusDeclined:             "Proctoring declined",
	StatusTimedOut:             "Time expired",
	StatusError:                "Proctoring session error",
	StatusReadyToResume:        "Cleared to resume",
	StatusResumed:              "Resumed in a new attempt",
	StatusOnboardingMissing:    "Proctoring onboarding required",
	StatusOnboardingFailed:     "Proctoring onboarding failed",
	StatusOnboardingExpired:    "Proctoring onboarding expired",
}

// Description returns the short learner-facing phrase for the status.
func (s Status) Description() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return string(s)
}

// CanBeStarted reports whether the learner may enter the exam from this
// status. Resume eligibility is tracked separately via IsResumable.
func (s Status) CanBeStarted() bool {
	return s == StatusCreated || s == StatusDownloadClicked || s == StatusReadyToStart
}

// IsCompleted reports whether the status reflects a turned-in or otherwise
// terminal outcome.
func (s Status) IsCompleted() bool {
	return completedStatuses[s]
}

// IsIncomplete reports whether the attempt is still in flight.
func (s Status) IsIncomplete() bool {
	return !completedStatuses[s]
}

// IsResumeStatus reports whether an attempt in this status may be resumed by
// creating a successor attempt.
func (s Status) IsResumeStatus() bool {
	return resumeStatuses[s]
}

// IsCascadableFailure reports whether entering this status must propagate a
// decline to sibling proctored exams in the same course.
func (s Status) IsCascadableFailure() bool {
	return cascadableFailures[s]
}

// NeedsGradeOverride reports whether entering this status zeroes the
// learner's subsection grade (course policy permitting).
func (s Status) NeedsGradeOverride() bool {
	return s == StatusRejected
}

// ProducesEmail reports whether entering this status sends a learner email.
func (s Status) ProducesEmail() bool {
	return emailStatuses[s]
}

// IsOnboardingRemediation reports whether the status parks the attempt for
// onboarding remediation rather than exam taking.
func (s Status) IsOnboardingRemediation() bool {
	return onboardingStatuses[s]
}

// ══════════════════════════════════════════════════════════════════════════════
// CREDIT OUTCOME MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// CreditOutcome is the credit-requirement status pushed to the LMS when an
// authoritative attempt changes status.
type CreditOutcome string

const (
	CreditSatisfied CreditOutcome = "satisfied"
	CreditSubmitted CreditOutcome = "submitted"
	CreditDeclined  CreditOutcome = "declined"
	CreditFailed    CreditOutcome = "failed"
)

// CreditOutcome maps the status onto the credit-requirement status it pushes.
// The second return is false for statuses with no credit effect.
func (s Status) CreditOutcome() (CreditOutcome, bool) {
	switch s {
	case StatusVerified:
		return CreditSatisfied, true
	case StatusSubmitted, StatusSecondReviewRequired:
		return CreditSubmitted, true
	case StatusDeclined:
		return CreditDeclined, true
	case StatusRejected, StatusError:
		return CreditFailed, true
	default:
		return "", false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

// Attempt is one learner's instance of taking an exam, tracked through the
// status lifecycle. At most one current attempt exists per (exam, user) except
// when the current one is in a resume status or the exam is practice/sample.
type Attempt struct {
	// ID is the internal unique identifier (UUID in string form).
	ID string

	// ExamID / UserID identify the attempt slot.
	ExamID exam.ID
	UserID exam.UserID

	// AttemptCode is a random, collision-resistant code the vendor software
	// uses to identify the attempt without exposing internal IDs.
	AttemptCode string

	// ExternalID is the vendor-side attempt identifier. Empty until vendor
	// registration succeeds; cleared again when a failure cascade strips
	// proctoring from the attempt.
	ExternalID string

	// Status is the lifecycle status. Mutated only through the status funnel.
	Status Status

	// StartedAt is stamped on first entry into StatusStarted.
	StartedAt *time.Time

	// CompletedAt is stamped on entry into StatusSubmitted (for timeouts,
	// the computed expiry instant rather than wall-clock now).
	CompletedAt *time.Time

	// AllowedTimeLimitMins is the allowed time computed at start.
	AllowedTimeLimitMins int

	// TimeRemainingSeconds carries unused time forward when an errored
	// attempt is resumed. Nil when no carry-over applies.
	TimeRemainingSeconds *int

	// IsResumable is recomputed by the status funnel: true after an error,
	// false once resumed, marked ready to resume, or submitted.
	IsResumable bool

	// TakingAsProctored records whether the learner took the proctored path.
	TakingAsProctored bool

	// IsSamplePractice marks attempts on practice/sample exams.
	IsSamplePractice bool

	// ReviewPolicyID references the policy the vendor review was given.
	ReviewPolicyID string

	// IsStatusAcknowledged is the one field a learner may flip directly:
	// it records that they have seen a terminal status.
	IsStatusAcknowledged bool

	// Version is the optimistic concurrency token. Every persisted update
	// increments it; a stale version fails the write.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasStarted reports whether the attempt clock ever started.
func (a *Attempt) HasStarted() bool {
	return a.StartedAt != nil
}

// ExpiresAt returns the instant at which a started attempt runs out of time.
// The second return is false for attempts that never started.
func (a *Attempt) ExpiresAt() (time.Time, bool) {
	if a.StartedAt == nil {
		return time.Time{}, false
	}
	return a.StartedAt.Add(time.Duration(a.AllowedTimeLimitMins) * time.Minute), true
}

// HasExpired reports whether a started, still-incomplete attempt is past its
// allowed time at the given instant.
func (a *Attempt) HasExpired(now time.Time) bool {
	if !a.HasStarted() || a.Status.IsCompleted() {
		return false
	}
	expiry, ok := a.ExpiresAt()
	return ok && now.After(expiry)
}
