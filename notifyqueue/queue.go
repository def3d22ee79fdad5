// Package notifyqueue delivers user-notification events through the cache
// store's LPUSH/BRPOP primitives — the one corner of this system where the
// cache store carries a list instead of a key/value entry. Event shape and
// the validate-before-publish discipline are adapted from the
// pubsub event types.
package notifyqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgereg/cachelayer/cachestore"
)

// EventVersion1 is the current wire schema version for DeliveryEvent.
const EventVersion1 = 1

// QueueKey is the list key notifications are pushed to and popped from.
// Not namespaced per-user: one global delivery queue, fanned out to
// per-user notification state by the consumer.
const QueueKey = "notification_delivery_queue"

// DeliveryEvent announces that a user has a new notification to pick up.
// The body itself lives in the relational store and the user_notifications
// cache namespace; this event only carries enough to invalidate and notify.
type DeliveryEvent struct {
	Version        int       `json:"version"`
	UserID         string    `json:"user_id"`
	NotificationID string    `json:"notification_id"`
	TriggeredAt    time.Time `json:"triggered_at"`
	RequestID      string    `json:"request_id"`
}

// Validate reports whether the event is well-formed enough to publish.
func (e *DeliveryEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("notifyqueue: unsupported event version: %d", e.Version)
	}
	if e.UserID == "" {
		return errors.New("notifyqueue: user_id is required")
	}
	if e.NotificationID == "" {
		return errors.New("notifyqueue: notification_id is required")
	}
	if e.TriggeredAt.IsZero() {
		return errors.New("notifyqueue: triggered_at cannot be zero")
	}
	if e.RequestID == "" {
		return errors.New("notifyqueue: request_id is required")
	}
	return nil
}

// Queue publishes and consumes DeliveryEvents over a cachestore.Store list.
type Queue struct {
	store *cachestore.Store
}

// New builds a Queue backed by store.
func New(store *cachestore.Store) *Queue {
	return &Queue{store: store}
}

// Publish validates and pushes an event onto the queue.
func (q *Queue) Publish(ctx context.Context, e DeliveryEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notifyqueue: marshal: %w", err)
	}
	return q.store.LPush(ctx, QueueKey, string(data))
}

// Consume blocks for up to timeout waiting for the next event. A timeout of
// 0 waits indefinitely, matching the cache store's BRPOP convention. Returns
// ok=false on timeout with no error.
func (q *Queue) Consume(ctx context.Context, timeout time.Duration) (DeliveryEvent, bool, error) {
	raw, ok, err := q.store.BRPop(ctx, QueueKey, timeout)
	if err != nil || !ok {
		return DeliveryEvent{}, false, err
	}
	var e DeliveryEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return DeliveryEvent{}, false, fmt.Errorf("notifyqueue: unmarshal: %w", err)
	}
	return e, true, nil
}
