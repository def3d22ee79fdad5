package monitoring

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/cachestore"
)

// sustainedWaitWindow is how long waiting > 0 must persist across
// consecutive samples before AlertManager logs a warning, avoiding noise
// from a single transient blip.
const sustainedWaitWindow = SampleInterval

// AlertManager evaluates each pool-stats sample against a small set of
// threshold rules, trimmed from a generic AlertRule/metric-window design
// down to the two conditions that matter for a connection pool:
// sustained waiters and full exhaustion.
type AlertManager struct {
	mu           sync.Mutex
	waitingSince time.Time
}

// NewAlertManager creates an AlertManager with no active condition.
func NewAlertManager() *AlertManager {
	return &AlertManager{}
}

// Evaluate inspects one sample and logs a warning if a tracked condition
// has been true long enough to matter.
func (a *AlertManager) Evaluate(stats cachestore.PoolStats, log *zap.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	if stats.Waiting > 0 {
		if a.waitingSince.IsZero() {
			a.waitingSince = now
		} else if now.Sub(a.waitingSince) >= sustainedWaitWindow {
			log.Warn("cache pool has sustained waiters",
				zap.Int("waiting", stats.Waiting),
				zap.Duration("since", now.Sub(a.waitingSince)))
		}
	} else {
		a.waitingSince = time.Time{}
	}

	if stats.Available == 0 && stats.MaxSize > 0 {
		log.Warn("cache pool has no available connections",
			zap.Int("size", stats.Size),
			zap.Int("max_size", stats.MaxSize))
	}
}
