package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/coalesce"
)

// ReapInterval is how often the subscriber reaper runs.
const ReapInterval = 30 * time.Second

// IdleThreshold is how long a single-flight slot may sit unresolved
// before the reaper treats its writer as abandoned.
const IdleThreshold = 5 * time.Minute

// Reaper periodically evicts single-flight slots whose writer has been
// holding them longer than IdleThreshold, unblocking any subscribers
// still waiting on them. This bounds the coordinator's memory footprint
// when a writer goroutine is cancelled or panics without releasing; it
// has no effect on cache correctness, since every slot it touches has
// already exceeded the bounded subscriber wait several times over.
type Reaper struct {
	coord *coalesce.Coordinator
	log   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewReaper(coord *coalesce.Coordinator, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{coord: coord, log: log, stop: make(chan struct{}), done: make(chan struct{})}
}

// Run blocks, reaping every ReapInterval until ctx is cancelled or Stop is
// called.
func (r *Reaper) Run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if n := r.coord.Reap(IdleThreshold); n > 0 {
				r.log.Warn("reaped idle single-flight slots", zap.Int("count", n))
			}
		}
	}
}

// Stop halts Run and waits for it to return. Safe to call more than once.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
