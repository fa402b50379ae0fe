package attempt

import (
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/pkg/timeutil"
)

// CalculateAllowedMins computes the minutes a learner may spend on an exam at
// the given instant. It is a pure function used both when stamping the allowed
// time at start and for UI countdowns.
//
// Base time is the exam's limit plus any standing per-user allowance; when the
// current attempt carries time forward from a resumed predecessor, the carried
// seconds (floored to whole minutes) replace the base instead. The result is
// clamped so the exam can never run past its due date: it is 0 exactly at and
// after the due date, and never negative.
func CalculateAllowedMins(e *exam.Exam, allowanceMins int, current *Attempt, now time.Time) int {
	base := e.TimeLimitMins
	if current != nil && current.TimeRemainingSeconds != nil {
		base = timeutil.WholeMinutes(*current.TimeRemainingSeconds)
	} else {
		base += allowanceMins
	}

	if base < 0 {
		base = 0
	}

	if e.DueDate != nil && timeutil.AddMinutes(now, base).After(*e.DueDate) {
		base = timeutil.MinutesUntil(now, *e.DueDate)
	}

	return base
}
