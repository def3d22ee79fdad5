package entities

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
	"github.com/forgereg/cachelayer/coalesce"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Deps{
		Store: cachestore.NewFromClient(client, 10, nil),
		Coord: coalesce.New(),
		Meta:  func() string { return "" },
	}
}

func TestFlowBeginGetConsume(t *testing.T) {
	deps := newTestDeps(t)
	flows := NewFlows(deps)
	ctx := context.Background()

	userID := int64(7)
	token, err := flows.Begin(ctx, Flow{Type: "login_2fa", UserID: &userID}, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, ok, err := flows.Get(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "login_2fa", got.Type)
	require.Equal(t, userID, *got.UserID)

	consumed, ok, err := flows.Consume(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "login_2fa", consumed.Type)

	_, ok, err = flows.Get(ctx, token)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlowGetMissingTokenIsNotFound(t *testing.T) {
	deps := newTestDeps(t)
	flows := NewFlows(deps)
	_, ok, err := flows.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.False(t, ok)
}
