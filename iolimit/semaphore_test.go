package iolimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	s := New(100, 2)
	release, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.InUse())
	release()
	assert.Equal(t, 0, s.InUse())
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	s := New(1000, 1)
	release, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx)
	assert.Error(t, err)

	release()
}

func TestAcquireUnblocksAfterRelease(t *testing.T) {
	s := New(1000, 1)
	release, err := s.Acquire(context.Background())
	require.NoError(t, err)

	var acquired int32
	done := make(chan struct{})
	go func() {
		r, err := s.Acquire(context.Background())
		if err == nil {
			atomic.StoreInt32(&acquired, 1)
			r()
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&acquired))

	release()
	<-done
	assert.Equal(t, int32(1), atomic.LoadInt32(&acquired))
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := New(100, 2)
	release, err := s.Acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.NotPanics(t, release)
	assert.Equal(t, 0, s.InUse())
}
