package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// fakeRedisClient captures publishes and lets tests inject remote messages.
type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{incoming: make(chan RedisMessage, 10)}
}

func (c *fakeRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message.(string))
	return nil
}

func (c *fakeRedisClient) Subscribe(ctx context.Context, channels ...string) (<-chan RedisMessage, error) {
	return c.incoming, nil
}

func (c *fakeRedisClient) Close() error {
	close(c.incoming)
	return nil
}

func (c *fakeRedisClient) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func newTestRedisBus(t *testing.T, client *fakeRedisClient) *RedisEventBus {
	t.Helper()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:      client,
		InstanceID:  "instance-a",
		ChannelName: "test:events",
		LocalBusConfig: InMemoryEventBusConfig{
			AsyncMode: false,
			Logger:    quietLogger(),
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return bus
}

func TestRedisBusPublishBroadcastsAndRunsLocalHandlers(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client)
	defer bus.Close()

	var got []string
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(e shared.Event) error {
		got = append(got, e.AggregateID())
		return nil
	}))

	require.NoError(t, bus.Publish(statusEvent("timed_out")))

	assert.Equal(t, []string{"attempt-1"}, got)
	require.Equal(t, 1, client.publishedCount())

	var envelope eventEnvelope
	require.NoError(t, json.Unmarshal([]byte(client.published[0]), &envelope))
	assert.Equal(t, "instance-a", envelope.InstanceID)
	assert.Equal(t, shared.EventAttemptStatusChanged, envelope.EventType)
	assert.Equal(t, "attempt-1", envelope.AggregateID)
}

func TestRedisBusReplaysRemoteEvents(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client)
	defer bus.Close()

	received := make(chan string, 1)
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(e shared.Event) error {
		received <- e.AggregateID()
		return nil
	}))

	remote, err := json.Marshal(eventEnvelope{
		InstanceID:  "instance-b",
		EventType:   shared.EventAttemptStatusChanged,
		AggregateID: "attempt-9",
		OccurredAt:  time.Now().UTC(),
		Payload:     map[string]interface{}{"to_code": "timed_out"},
	})
	require.NoError(t, err)
	client.incoming <- RedisMessage{Channel: "test:events", Payload: string(remote)}

	select {
	case id := <-received:
		assert.Equal(t, "attempt-9", id)
	case <-time.After(time.Second):
		t.Fatal("remote event never reached local handlers")
	}
}

func TestRedisBusSkipsOwnMessages(t *testing.T) {
	client := newFakeRedisClient()
	bus := newTestRedisBus(t, client)
	defer bus.Close()

	received := make(chan string, 1)
	require.NoError(t, bus.Subscribe(shared.EventAttemptStatusChanged, func(e shared.Event) error {
		received <- e.AggregateID()
		return nil
	}))

	// Echo of this instance's own publish must not run handlers twice.
	own, err := json.Marshal(eventEnvelope{
		InstanceID:  "instance-a",
		EventType:   shared.EventAttemptStatusChanged,
		AggregateID: "attempt-1",
		OccurredAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	client.incoming <- RedisMessage{Channel: "test:events", Payload: string(own)}

	select {
	case id := <-received:
		t.Fatalf("own message replayed locally: %s", id)
	case <-time.After(200 * time.Millisecond):
	}
}
