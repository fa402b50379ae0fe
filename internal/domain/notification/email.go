// Package notification contains the learner-facing status email model.
// Emails are composed here in the domain layer; delivery goes through the
// Sink interface implemented in infrastructure.
package notification

import (
	"context"
	"fmt"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS EMAIL
// ══════════════════════════════════════════════════════════════════════════════

// StatusEmail is a composed learner notification about an attempt outcome.
type StatusEmail struct {
	UserID   exam.UserID
	ExamID   exam.ID
	ExamName string
	Status   attempt.Status
	Subject  string
	Body     string
}

// Sink delivers composed status emails. Implementations live in
// infrastructure; delivery failures are logged, never propagated into the
// status transition itself.
type Sink interface {
	// Deliver sends the email to the learner.
	Deliver(ctx context.Context, email *StatusEmail) error
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITION
// ══════════════════════════════════════════════════════════════════════════════

// ComposeStatusEmail builds the learner email for an attempt entering the
// given status. It returns nil when no email applies: only submitted,
// verified, and rejected produce mail, and practice/sample attempts never do.
func ComposeStatusEmail(e *exam.Exam, a *attempt.Attempt) *StatusEmail {
	if !a.Status.ProducesEmail() || a.IsSamplePractice {
		return nil
	}

	email := &StatusEmail{
		UserID:   a.UserID,
		ExamID:   e.ID,
		ExamName: e.ExamName,
		Status:   a.Status,
	}

	switch a.Status {
	case attempt.StatusSubmitted:
		email.Subject = fmt.Sprintf("Proctoring session for %q is being reviewed", e.ExamName)
		email.Body = fmt.Sprintf(
			"Your proctored exam %q was submitted successfully and is now under review. "+
				"You will receive another message once the review completes.", e.ExamName)
	case attempt.StatusVerified:
		email.Subject = fmt.Sprintf("Proctoring session for %q was reviewed and passed", e.ExamName)
		email.Body = fmt.Sprintf(
			"The proctoring review for your exam %q passed. No further action is needed.", e.ExamName)
	case attempt.StatusRejected:
		email.Subject = fmt.Sprintf("Proctoring session for %q was reviewed and did not pass", e.ExamName)
		email.Body = fmt.Sprintf(
			"The proctoring review for your exam %q did not pass. "+
				"Check the exam page for details and available next steps.", e.ExamName)
	}

	return email
}
