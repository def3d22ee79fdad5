package notifyqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(cachestore.NewFromClient(client, 10, nil))
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	ev := DeliveryEvent{
		Version:        EventVersion1,
		UserID:         "user-1",
		NotificationID: "notif-1",
		TriggeredAt:    time.Unix(1000, 0),
		RequestID:      "req-1",
	}
	require.NoError(t, q.Publish(ctx, ev))

	got, ok, err := q.Consume(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ev.UserID, got.UserID)
	require.Equal(t, ev.NotificationID, got.NotificationID)
}

func TestConsumeTimesOutOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	_, ok, err := q.Consume(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	q := newTestQueue(t)
	err := q.Publish(context.Background(), DeliveryEvent{Version: EventVersion1})
	require.Error(t, err)
}
