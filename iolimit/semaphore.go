// Package iolimit bounds concurrent external I/O issued by entity adapters
// that must reach out past the cache and the database — currently only the
// image adapter's thumbnail fetches. It is adapted from the
// token-bucket rate limiter originally used for HTTP request throttling,
// narrowed to the one thing adapters need: a bounded number of concurrent
// in-flight calls, plus a ceiling on how fast new ones may start.
package iolimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Semaphore bounds both the rate new external calls may start and how many
// may be in flight at once. Unlike a per-key token bucket, there
// is exactly one bucket per Semaphore — callers needing per-host or per-user
// isolation construct one Semaphore per key themselves.
type Semaphore struct {
	limiter *rate.Limiter
	slots   chan struct{}
	burst   int
}

// New creates a Semaphore allowing up to concurrency calls in flight and a
// sustained rate of ratePerSecond new calls starting per second (burst
// capped at concurrency).
func New(ratePerSecond float64, concurrency int) *Semaphore {
	if concurrency <= 0 {
		panic("iolimit: concurrency must be positive")
	}
	if ratePerSecond <= 0 {
		panic("iolimit: ratePerSecond must be positive")
	}
	return &Semaphore{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), concurrency),
		slots:   make(chan struct{}, concurrency),
		burst:   concurrency,
	}
}

// Acquire blocks until a slot is free and the rate limiter admits the call,
// or until ctx is cancelled. The returned release func must be called
// exactly once to free the slot.
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("iolimit: acquire slot: %w", ctx.Err())
	}

	if err := s.limiter.Wait(ctx); err != nil {
		<-s.slots
		return nil, fmt.Errorf("iolimit: rate wait: %w", err)
	}

	var released bool
	return func() {
		if released {
			return
		}
		released = true
		<-s.slots
	}, nil
}

// InUse reports the number of slots currently held. Sampled by monitoring,
// not used on the adapter path.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Capacity reports the configured concurrency ceiling.
func (s *Semaphore) Capacity() int {
	return s.burst
}
