// Package monitoring samples the cache-store connection pool and reaps
// idle single-flight subscribers. It carries no request-path event
// stream — there is only one thing worth watching continuously here,
// pool health, so it polls instead of subscribing to an event feed.
package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/cachestore"
)

// SampleInterval is how often the pool sampler takes a reading.
const SampleInterval = 30 * time.Second

// Gauges holds the four pool-health gauges registered on the caller's
// registry, handed back to the caller rather than hidden behind
// package-level globals.
type Gauges struct {
	MaxSize   prometheus.Gauge
	Size      prometheus.Gauge
	Available prometheus.Gauge
	Waiting   prometheus.Gauge
}

// NewGauges constructs and registers the four pool gauges on reg.
func NewGauges(reg prometheus.Registerer) *Gauges {
	g := &Gauges{
		MaxSize:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_pool_max_size", Help: "Configured upper bound on cache-store pool connections."}),
		Size:      prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_pool_size", Help: "Current cache-store pool connection count."}),
		Available: prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_pool_available", Help: "Idle cache-store pool connections available for reuse."}),
		Waiting:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "cache_pool_waiting", Help: "Callers that have had to wait for a pool connection."}),
	}
	reg.MustRegister(g.MaxSize, g.Size, g.Available, g.Waiting)
	return g
}

func (g *Gauges) set(stats cachestore.PoolStats) {
	g.MaxSize.Set(float64(stats.MaxSize))
	g.Size.Set(float64(stats.Size))
	g.Available.Set(float64(stats.Available))
	g.Waiting.Set(float64(stats.Waiting))
}

// Sampler periodically reads the store's pool stats, updates the
// Prometheus gauges, and feeds the reading into a Dashboard ring buffer
// and an AlertManager.
type Sampler struct {
	store     *cachestore.Store
	gauges    *Gauges
	dashboard *Dashboard
	alerts    *AlertManager
	log       *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSampler builds a Sampler. dashboard and alerts may be nil to skip
// either collaborator.
func NewSampler(store *cachestore.Store, gauges *Gauges, dashboard *Dashboard, alerts *AlertManager, log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sampler{
		store:     store,
		gauges:    gauges,
		dashboard: dashboard,
		alerts:    alerts,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run blocks, sampling every SampleInterval until ctx is cancelled or Stop
// is called. Intended to run in its own goroutine for the process
// lifetime.
func (s *Sampler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	stats := s.store.Stats()
	s.gauges.set(stats)
	if s.dashboard != nil {
		s.dashboard.Record(stats)
	}
	if s.alerts != nil {
		s.alerts.Evaluate(stats, s.log)
	}
}

// Stop halts Run and waits for it to return. Safe to call more than once.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
