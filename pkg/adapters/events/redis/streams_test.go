package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seralba/rpo/pkg/adapters/events"
)

func newTestBus(t *testing.T) (*goredis.Client, *StreamsBus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, NewStreamsBus(client, "rpo-observers", "consumer-1", zap.NewNop())
}

func TestPublishAppendsToStream(t *testing.T) {
	client, bus := newTestBus(t)
	ctx := context.Background()

	event := events.New(events.TypeStepCompleted, "job-1", "analysis", "done", nil)
	require.NoError(t, bus.Publish(ctx, "pipeline", event))

	length, err := client.XLen(ctx, "rpo:events:pipeline").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestSubscribeDeliversAndAcks(t *testing.T) {
	client, bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan events.Event, 4)
	require.NoError(t, bus.Subscribe(ctx, "pipeline", func(ctx context.Context, event events.Event) error {
		received <- event
		return nil
	}))

	published := events.New(events.TypeStepStarted, "job-1", "analysis", "", nil)
	require.NoError(t, bus.Publish(ctx, "pipeline", published))

	select {
	case event := <-received:
		assert.Equal(t, published.ID, event.ID)
		assert.Equal(t, events.TypeStepStarted, event.Type)
		assert.Equal(t, "job-1", event.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered to the subscriber")
	}

	// Handled entries are acknowledged; nothing stays pending.
	assert.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "rpo:events:pipeline", "rpo-observers").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribeDeliversEntriesPublishedBeforehand(t *testing.T) {
	_, bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	early := events.New(events.TypeRunStarted, "job-2", "", "task", nil)
	require.NoError(t, bus.Publish(ctx, "pipeline", early))

	received := make(chan events.Event, 1)
	require.NoError(t, bus.Subscribe(ctx, "pipeline", func(ctx context.Context, event events.Event) error {
		received <- event
		return nil
	}))

	select {
	case event := <-received:
		assert.Equal(t, early.ID, event.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("entry published before Subscribe was not delivered")
	}
}

func TestHandlerErrorLeavesEntryPending(t *testing.T) {
	client, bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, "pipeline", func(ctx context.Context, event events.Event) error {
		return errors.New("handler broken")
	}))

	require.NoError(t, bus.Publish(ctx, "pipeline", events.New(events.TypeError, "job-3", "", "boom", nil)))

	// A failed handler must not acknowledge, so the entry can be
	// redelivered or claimed later.
	assert.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "rpo:events:pipeline", "rpo-observers").Result()
		return err == nil && pending.Count == 1
	}, 5*time.Second, 10*time.Millisecond)
}
