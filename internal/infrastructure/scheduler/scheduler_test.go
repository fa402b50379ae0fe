package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietScheduler() *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

type signalJob struct {
	name string
	ran  chan struct{}
	err  error
}

func (j *signalJob) Name() string        { return j.name }
func (j *signalJob) Description() string { return "test job" }

func (j *signalJob) Run(ctx context.Context) error {
	select {
	case j.ran <- struct{}{}:
	default:
	}
	return j.err
}

type panicJob struct{}

func (panicJob) Name() string                  { return "panics" }
func (panicJob) Description() string           { return "always panics" }
func (panicJob) Run(ctx context.Context) error { panic("sweep state corrupted") }

func TestRegisterRejectsNilAndDuplicates(t *testing.T) {
	s := quietScheduler()
	job := &signalJob{name: "expire", ran: make(chan struct{}, 1)}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
}

func TestStartStopLifecycle(t *testing.T) {
	s := quietScheduler()

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestDueJobFires(t *testing.T) {
	s := quietScheduler()
	job := &signalJob{name: "expire", ran: make(chan struct{}, 1)}

	// Due almost immediately; the loop picks it up on its next tick.
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	select {
	case <-job.ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}

	info, err := s.GetJobInfo("expire")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(1))
	assert.False(t, info.LastRun.IsZero())
}

func TestJobPanicIsContainedAndCounted(t *testing.T) {
	s := quietScheduler()
	require.NoError(t, s.Register(panicJob{}, NewIntervalSchedule(10*time.Millisecond)))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	deadline := time.After(3 * time.Second)
	for {
		info, err := s.GetJobInfo("panics")
		require.NoError(t, err)
		if info.FailCount >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("panicking job never recorded a failure")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestGetJobInfoUnknownJob(t *testing.T) {
	s := quietScheduler()
	_, err := s.GetJobInfo("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
