package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
)

func newTestStore(t *testing.T) *cachestore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 7})
	t.Cleanup(func() { _ = client.Close() })
	return cachestore.NewFromClient(client, 7, nil)
}

func TestNewGaugesRegistersAllFour(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewGauges(reg)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestSamplerSampleOnceUpdatesGaugesAndDashboard(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newTestStore(t)
	gauges := NewGauges(reg)
	dash := NewDashboard()
	alerts := NewAlertManager()

	s := NewSampler(store, gauges, dash, alerts, nil)
	s.sampleOnce()

	latest, ok := dash.Latest()
	require.True(t, ok)
	assert.Equal(t, 7, latest.Stats.MaxSize)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
}

func TestSamplerRunStopsCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := newTestStore(t)
	s := NewSampler(store, NewGauges(reg), NewDashboard(), NewAlertManager(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
