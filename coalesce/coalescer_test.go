package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFirstCallerIsWriter(t *testing.T) {
	c := New()
	w, s := c.Acquire("k")
	require.NotNil(t, w)
	require.Nil(t, s)
	defer w.Release()
}

func TestAcquireConcurrentCallersSubscribe(t *testing.T) {
	c := New()
	w, _ := c.Acquire("k")
	require.NotNil(t, w)

	_, s := c.Acquire("k")
	require.NotNil(t, s)

	var woke int32
	go func() {
		if s.Wait(context.Background(), time.Second) {
			atomic.AddInt32(&woke, 1)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&woke))

	w.Release()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&woke))
}

// TestSingleFlightLoaderCalledOnce asserts that N concurrent callers for the
// same missing key cause the loader to run exactly once.
func TestSingleFlightLoaderCalledOnce(t *testing.T) {
	c := New()
	var loads int32
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			w, s := c.Acquire("hot-key")
			if w != nil {
				atomic.AddInt32(&loads, 1)
				time.Sleep(50 * time.Millisecond) // simulate loader latency
				w.Release()
				return
			}
			s.Wait(context.Background(), time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads)
	assert.Equal(t, 0, c.InFlight())
}

func TestSubscriberTimeoutDoesNotAbortWriter(t *testing.T) {
	c := New()
	w, _ := c.Acquire("k")

	_, s := c.Acquire("k")
	ok := s.Wait(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)

	// Writer is unaffected by the subscriber's timeout and can still
	// release normally.
	w.Release()
	assert.Equal(t, 0, c.InFlight())
}

func TestWriterReleaseIsIdempotent(t *testing.T) {
	c := New()
	w, _ := c.Acquire("k")
	w.Release()
	assert.NotPanics(t, func() { w.Release() })
}

// TestReleaseSignalsBeforeRemoval is the drop-order invariant: a racing
// Acquire call must never observe a slot that has fired its broadcaster
// but not yet been removed in a way that loses the signal — it either
// subscribes to the firing slot or creates a fresh one.
func TestReleaseSignalsBeforeRemoval(t *testing.T) {
	c := New()
	w, _ := c.Acquire("k")

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Release()
	}()
	<-done

	// After release, a fresh Acquire must get a new Writer (old slot gone).
	w2, s2 := c.Acquire("k")
	require.NotNil(t, w2)
	require.Nil(t, s2)
	w2.Release()
}

func TestReapFiresAndEvictsSlotsOlderThanThreshold(t *testing.T) {
	c := New()
	stuckWriter, _ := c.Acquire("stuck")
	_ = stuckWriter // never released, simulating a crashed goroutine
	freshWriter, _ := c.Acquire("fresh")
	defer freshWriter.Release()

	_, stuckSub := c.Acquire("stuck")
	require.NotNil(t, stuckSub)

	reaped := c.Reap(-time.Millisecond)
	assert.Equal(t, 2, reaped)

	ok := stuckSub.Wait(context.Background(), 10*time.Millisecond)
	assert.True(t, ok, "reaping should fire the stuck broadcaster and unblock waiters")
}

func TestReapLeavesFreshSlotsAlone(t *testing.T) {
	c := New()
	w, _ := c.Acquire("k")
	defer w.Release()

	reaped := c.Reap(5 * time.Minute)
	assert.Equal(t, 0, reaped)
	assert.Equal(t, 1, c.InFlight())
}
