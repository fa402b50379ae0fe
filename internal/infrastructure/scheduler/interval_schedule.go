package scheduler

import (
	"fmt"
	"time"
)

// defaultInterval is used when a non-positive interval is given, so a
// zero-valued config cannot turn a job into a busy loop.
const defaultInterval = time.Minute

// IntervalSchedule fires on a rolling interval measured from the end of
// the previous run. It is the default schedule for the expiry sweep.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a rolling interval schedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next fire time after t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}
