package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/coalesce"
)

func TestReaperRunStopsCleanly(t *testing.T) {
	coord := coalesce.New()
	r := NewReaper(coord, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestReaperEvictsAbandonedSlots(t *testing.T) {
	coord := coalesce.New()
	_, _ = coord.Acquire("stuck")
	require.Equal(t, 1, coord.InFlight())

	n := coord.Reap(-time.Millisecond)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, coord.InFlight())
}
