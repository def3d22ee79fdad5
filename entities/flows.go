package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgereg/cachelayer/codec"
)

// Flow is a short-lived authentication handshake state: OAuth linking,
// two-factor login/setup, password reset, email confirmation. Unlike every
// other adapter, flows have no database backing and no loader — a flow is
// born in the cache store, lives for its configured expiry, and is deleted
// once consumed. It never goes through the cached-keys engine.
type Flow struct {
	Type   string          `json:"type"`
	UserID *int64          `json:"user_id,omitempty"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Flows is the Flow adapter.
type Flows struct {
	deps Deps
}

func NewFlows(deps Deps) *Flows {
	return &Flows{deps: deps}
}

// Begin creates a new flow token, stores f under it with the given expiry,
// and returns the token the caller hands back to the client.
func (f *Flows) Begin(ctx context.Context, flow Flow, expires time.Duration) (string, error) {
	token := uuid.NewString()
	data, err := json.Marshal(flow)
	if err != nil {
		return "", fmt.Errorf("flows: marshal: %w", err)
	}
	key := codec.FullyQualifiedKey(f.deps.Meta(), NSFlows, token)
	if err := f.deps.Store.Set(ctx, key, string(data), expires); err != nil {
		return "", err
	}
	return token, nil
}

// Get fetches a flow by token without consuming it.
func (f *Flows) Get(ctx context.Context, token string) (Flow, bool, error) {
	key := codec.FullyQualifiedKey(f.deps.Meta(), NSFlows, token)
	raw, ok, err := f.deps.Store.Get(ctx, key)
	if err != nil || !ok {
		return Flow{}, false, err
	}
	var flow Flow
	if err := json.Unmarshal([]byte(raw), &flow); err != nil {
		return Flow{}, false, nil
	}
	return flow, true, nil
}

// Consume fetches and deletes a flow in one logical step, so a token can
// only ever be redeemed once.
func (f *Flows) Consume(ctx context.Context, token string) (Flow, bool, error) {
	flow, ok, err := f.Get(ctx, token)
	if err != nil || !ok {
		return Flow{}, ok, err
	}
	key := codec.FullyQualifiedKey(f.deps.Meta(), NSFlows, token)
	deleted, err := f.deps.Store.Client().Del(ctx, key).Result()
	if err != nil {
		return flow, true, fmt.Errorf("flows: consume: %w", err)
	}
	if deleted == 0 {
		// Another caller removed the token between the read and the delete.
		return Flow{}, false, nil
	}
	return flow, true, nil
}
