package messaging

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func statusEvent(code string) shared.Event {
	return shared.NewAttemptStatusChangedEvent(
		"attempt-1", code, "exam-1", "user-1", "started", "submitted", false)
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    quietLogger(),
	})
}

func TestBusRoutesByEventType(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var statusChanges, removals []string
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(e shared.Event) error {
		statusChanges = append(statusChanges, e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventAttemptRemoved, func(e shared.Event) error {
		removals = append(removals, e.AggregateID())
		return nil
	}))

	require.NoError(t, bus.Publish(statusEvent("code-1")))

	assert.Equal(t, []string{"attempt-1"}, statusChanges)
	assert.Empty(t, removals)
}

func TestBusDeliversToGlobalSubscribers(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(statusEvent("code-1")))
	require.NoError(t, bus.Publish(statusEvent("code-2")))

	assert.Equal(t, []shared.EventType{
		shared.EventAttemptStatusChanged,
		shared.EventAttemptStatusChanged,
	}, seen)
}

func TestBusHandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var delivered int
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(shared.Event) error {
		delivered++
		return nil
	}))

	require.NoError(t, bus.Publish(statusEvent("code-1")))
	assert.Equal(t, 1, delivered)
}

func TestBusRefusesPublishAfterClose(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(statusEvent("code-1"))
	assert.ErrorIs(t, err, ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(shared.Event) error {
		return nil
	}), ErrEventBusClosed)
}

func TestBusAsyncDeliveryReachesHandlers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 2,
		Logger:         quietLogger(),
	})
	defer bus.Close()

	delivered := make(chan string, 10)
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(e shared.Event) error {
		delivered <- e.AggregateID()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(statusEvent("code-1")))
	}

	for i := 0; i < 10; i++ {
		select {
		case id := <-delivered:
			assert.Equal(t, "attempt-1", id)
		case <-time.After(time.Second):
			t.Fatalf("only %d of 10 events delivered", i)
		}
	}
}

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		EventBus: bus,
		RetryConfig: RetryConfig{
			MaxRetries:        2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   10,
		Logger:                quietLogger(),
	})
	defer d.Stop()

	var calls int
	require.NoError(t, d.RegisterSync(shared.EventAttemptStatusChanged, "always-fails",
		func(shared.Event) error { return errors.New("downstream unavailable") }))
	require.NoError(t, d.RegisterSync(shared.EventAttemptStatusChanged, "counts",
		func(shared.Event) error { calls++; return nil }))

	err := d.Dispatch(statusEvent("code-1"))
	require.Error(t, err)

	assert.Equal(t, 1, calls, "healthy handler runs despite the failing one")
	require.Equal(t, 1, d.DeadLetterQueue().Size())
	entry, ok := d.DeadLetterQueue().Pop()
	require.True(t, ok)
	assert.Equal(t, "always-fails", entry.HandlerName)
	assert.Equal(t, 3, entry.Attempts)
}

func TestDispatcherRetrySucceedsBeforeExhaustion(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		EventBus: bus,
		RetryConfig: RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Logger: quietLogger(),
	})
	defer d.Stop()

	var calls int
	require.NoError(t, d.RegisterSync(shared.EventAttemptStatusChanged, "flaky",
		func(shared.Event) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}))

	require.NoError(t, d.Dispatch(statusEvent("code-1")))
	assert.Equal(t, 3, calls)
}

func TestRecoveryMiddlewareTurnsPanicIntoError(t *testing.T) {
	handler := RecoveryMiddleware(quietLogger())(func(shared.Event) error {
		panic("corrupt payload")
	})

	err := handler(statusEvent("code-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt payload")
}

func TestDispatcherStartWiresIntoBus(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	d := NewDispatcher(DispatcherConfig{
		EventBus: bus,
		Logger:   quietLogger(),
	})
	defer d.Stop()

	var got []string
	require.NoError(t, d.RegisterSync(shared.EventAttemptStatusChanged, "collector",
		func(e shared.Event) error {
			got = append(got, e.AggregateID())
			return nil
		}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(statusEvent("code-1")))
	assert.Equal(t, []string{"attempt-1"}, got)
}
