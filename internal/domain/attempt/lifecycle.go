package attempt

import (
	"fmt"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// The single source of truth for which status transitions are legal and what
// bookkeeping a transition performs on the attempt row. The application-layer
// status funnel delegates here so the rules stay independently testable.
// ══════════════════════════════════════════════════════════════════════════════

// Guard is a predicate over a proposed transition. It returns a non-nil error
// to veto the transition.
type Guard func(a *Attempt, to Status) error

// Lifecycle holds the transition table and guard predicates for attempts.
type Lifecycle struct {
	// allowTimedOutState permits attempts to rest in timed_out. When false
	// (the global timeout-allowance flag is disabled), timed_out targets
	// are coerced to submitted.
	allowTimedOutState bool

	// denied is the (from, to) pair table: true means the transition is
	// never legal regardless of guards.
	denied map[Status]map[Status]bool

	guards []Guard
}

// NewLifecycle builds the lifecycle with the standard transition table:
// completed statuses form a terminal sink, ready_to_resume requires the
// resumable flag, and resumed is reachable only from a resume status.
func NewLifecycle(allowTimedOutState bool) *Lifecycle {
	l := &Lifecycle{
		allowTimedOutState: allowTimedOutState,
		denied:             make(map[Status]map[Status]bool),
	}

	// Completed -> incomplete pairs are denied wholesale.
	for _, from := range allStatuses {
		if !from.IsCompleted() {
			continue
		}
		row := make(map[Status]bool)
		for _, to := range allStatuses {
			if to.IsIncomplete() {
				row[to] = true
			}
		}
		l.denied[from] = row
	}

	l.guards = []Guard{guardResumableFlag, guardResumeSource}
	return l
}

// guardResumableFlag vetoes entry into ready_to_resume unless the attempt was
// marked resumable before the transition.
func guardResumableFlag(a *Attempt, to Status) error {
	if to == StatusReadyToResume && !a.IsResumable {
		return fmt.Errorf("attempt %s is not resumable", a.ID)
	}
	return nil
}

// guardResumeSource vetoes entry into resumed from anything but a resume status.
func guardResumeSource(a *Attempt, to Status) error {
	if to == StatusResumed && !a.Status.IsResumeStatus() {
		return fmt.Errorf("cannot resume from status %q", a.Status)
	}
	return nil
}

// CoerceTarget applies the pre-legality status coercions: timed_out collapses
// to submitted when the timeout allowance is disabled, and re-entering an
// already-completed attempt ("reattempt") collapses to submitted.
func (l *Lifecycle) CoerceTarget(a *Attempt, to Status) Status {
	if to == StatusTimedOut && !l.allowTimedOutState {
		return StatusSubmitted
	}
	if to == StatusStarted && a.Status.IsCompleted() {
		return StatusSubmitted
	}
	return to
}

// CheckTransition returns a typed error when moving the attempt to the target
// status would be illegal. It never mutates the attempt.
func (l *Lifecycle) CheckTransition(a *Attempt, to Status) error {
	if !to.IsValid() {
		return shared.WrapError("attempt", "UpdateStatus", shared.ErrInvalidInput,
			"unknown status", fmt.Errorf("status %q", to))
	}
	if l.denied[a.Status][to] {
		return shared.WrapError("attempt", "UpdateStatus", shared.ErrIllegalStatusTransition,
			"completed attempts cannot return to an incomplete status",
			fmt.Errorf("%s -> %s", a.Status, to))
	}
	for _, guard := range l.guards {
		if err := guard(a, to); err != nil {
			return shared.WrapError("attempt", "UpdateStatus", shared.ErrIllegalStatusTransition,
				"transition vetoed", err)
		}
	}
	return nil
}

// Applied reports what a transition did, so the funnel knows which side
// effects and vendor hooks to fire. Time stamping already happened in Apply.
type Applied struct {
	// From is the status before the transition.
	From Status

	// FirstStart is true on the first-ever entry into started. The caller
	// must compute and set AllowedTimeLimitMins when this is set.
	FirstStart bool

	// FirstSubmit is true on the first-ever entry into submitted
	// (including timeout-coerced submissions).
	FirstSubmit bool

	// FirstError is true on entry into error from another status.
	FirstError bool
}

// Apply performs the transition bookkeeping on the attempt: sets the status,
// stamps started_at on first start and completed_at on first submit (using the
// supplied timeout instant when present), and recomputes the resumable flag.
// Callers must have passed CheckTransition first; Apply does not re-validate.
func (l *Lifecycle) Apply(a *Attempt, to Status, now time.Time, timeoutAt *time.Time) Applied {
	applied := Applied{From: a.Status}

	if to == StatusStarted && a.StartedAt == nil {
		startedAt := now
		a.StartedAt = &startedAt
		applied.FirstStart = true
	}

	if to == StatusSubmitted && a.CompletedAt == nil {
		completedAt := now
		if timeoutAt != nil {
			completedAt = *timeoutAt
		}
		a.CompletedAt = &completedAt
		applied.FirstSubmit = true
	}

	// Timeouts that keep their own terminal status still record the
	// expiry instant as the completion time.
	if to == StatusTimedOut && a.CompletedAt == nil {
		completedAt := now
		if timeoutAt != nil {
			completedAt = *timeoutAt
		}
		a.CompletedAt = &completedAt
	}

	if to == StatusError && a.Status != StatusError {
		applied.FirstError = true
	}

	switch to {
	case StatusSubmitted, StatusResumed, StatusReadyToResume:
		a.IsResumable = false
	case StatusError:
		a.IsResumable = true
	}

	a.Status = to
	a.UpdatedAt = now
	return applied
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORITY RULE
// Among possibly many attempts for one (user, exam), only the authoritative
// transition may push credit, grades, certificate, and email side effects.
// ══════════════════════════════════════════════════════════════════════════════

// CanUpdateCreditGradesAndEmail implements the authoritative-attempt rule.
// current is the just-applied status of the transitioning attempt; all holds
// the statuses of every attempt (historical and current) for the (user, exam)
// pair, including the transitioning one.
func CanUpdateCreditGradesAndEmail(current Status, all []Status) bool {
	// An only-ever attempt always speaks for the learner.
	if len(all) <= 1 {
		return true
	}

	switch current {
	case StatusDeclined, StatusError:
		return true
	case StatusSubmitted:
		// A submission is overruled by any standing rejection.
		return countStatus(all, StatusRejected) == 0
	case StatusVerified:
		// Verification counts only once every attempt is verified.
		for _, s := range all {
			if s != StatusVerified {
				return false
			}
		}
		return true
	case StatusRejected:
		// The first rejection is penalized; repeats are not, and a
		// standing decline already covers the learner.
		return countStatus(all, StatusRejected) <= 1 &&
			countStatus(all, StatusDeclined) == 0
	default:
		return false
	}
}

func countStatus(statuses []Status, want Status) int {
	n := 0
	for _, s := range statuses {
		if s == want {
			n++
		}
	}
	return n
}
