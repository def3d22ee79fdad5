package monitoring

import (
	"sync"
	"time"

	"github.com/forgereg/cachelayer/cachestore"
)

// DashboardCapacity bounds how many samples Dashboard keeps: at one
// sample per SampleInterval, 120 entries covers the last hour.
const DashboardCapacity = 120

// Sample pairs a pool-stats reading with when it was taken.
type Sample struct {
	Stats cachestore.PoolStats
	At    time.Time
}

// Dashboard keeps a bounded ring buffer of recent pool-stats samples so an
// operator endpoint can render a trend without re-querying the pool on
// every request. Ring-buffer-of-samples is the same shape as the
// teacher's RingBuffer, sized down from a lock-free CAS structure tuned
// for >1M events/sec to a plain mutex-guarded slice — overkill at one
// write every 30s.
type Dashboard struct {
	mu      sync.Mutex
	samples []Sample
	next    int
	filled  bool
}

// NewDashboard creates an empty Dashboard.
func NewDashboard() *Dashboard {
	return &Dashboard{samples: make([]Sample, DashboardCapacity)}
}

// Record appends a new pool-stats sample, overwriting the oldest once the
// buffer is full.
func (d *Dashboard) Record(stats cachestore.PoolStats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samples[d.next] = Sample{Stats: stats, At: time.Now()}
	d.next = (d.next + 1) % len(d.samples)
	if d.next == 0 {
		d.filled = true
	}
}

// Recent returns samples in chronological order, oldest first.
func (d *Dashboard) Recent() []Sample {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filled {
		out := make([]Sample, d.next)
		copy(out, d.samples[:d.next])
		return out
	}

	out := make([]Sample, len(d.samples))
	copy(out, d.samples[d.next:])
	copy(out[len(d.samples)-d.next:], d.samples[:d.next])
	return out
}

// Latest returns the most recent sample, or the zero Sample and false if
// none have been recorded yet.
func (d *Dashboard) Latest() (Sample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filled && d.next == 0 {
		return Sample{}, false
	}
	idx := d.next - 1
	if idx < 0 {
		idx = len(d.samples) - 1
	}
	return d.samples[idx], true
}
