// Package cachestore is the thin typed surface over the external cache
// protocol: GET, MGET, SET EX, DEL, LPUSH, BRPOP, and pipelined SET. It owns
// the connection pool and exposes pool-health gauges.
package cachestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultExpiry is the hard TTL applied to every cache entry unless an
	// explicit expiry is given.
	DefaultExpiry = 12 * time.Hour
	// SoftExpiry is the application-enforced freshness boundary; entries
	// older than this are served only as a soft-TTL fallback while a
	// refresh is in flight.
	SoftExpiry = 30 * time.Minute
)

// Options configures a Store.
type Options struct {
	URL            string
	WaitTimeout    time.Duration
	MaxConnections int
	Logger         *zap.Logger
}

// Store wraps a redis.UniversalClient with the operations this system's
// cache path needs. All failures are reported as *ErrUnavailable so callers
// never have to know the underlying wire client.
type Store struct {
	client  redis.UniversalClient
	log     *zap.Logger
	maxSize int
}

// New builds a Store from a connection URL plus pool sizing. Panics if the
// URL cannot be parsed — a dependency this central should fail fast at
// startup" posture for a dependency this central.
func New(opts Options) *Store {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		panic("cachestore: invalid REDIS_URL: " + err.Error())
	}

	if opts.MaxConnections > 0 {
		parsed.PoolSize = opts.MaxConnections
	}
	if opts.WaitTimeout > 0 {
		parsed.PoolTimeout = opts.WaitTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{client: redis.NewClient(parsed), log: logger, maxSize: parsed.PoolSize}
}

// NewFromClient wraps an already-constructed client — used by tests to
// point a Store at a miniredis instance.
func NewFromClient(client redis.UniversalClient, maxSize int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, log: logger, maxSize: maxSize}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get fetches a single key. A miss returns ("", false, nil); a protocol
// error returns a wrapped *ErrUnavailable.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("GET", err)
	}
	return val, true, nil
}

// MGet fetches multiple keys in one round trip. The result slice mirrors
// keys' order; a missing key is represented by a nil entry.
func (s *Store) MGet(ctx context.Context, keys []string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("MGET", err)
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = &str
	}
	return out, nil
}

// Set stores data under key with EX expiry, defaulting to DefaultExpiry
// when expiry is zero.
func (s *Store) Set(ctx context.Context, key, data string, expiry time.Duration) error {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if err := s.client.SetEx(ctx, key, data, expiry).Err(); err != nil {
		return wrap("SET", err)
	}
	return nil
}

// Del deletes a single key. A no-op delete (key absent) is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return wrap("DEL", err)
	}
	return nil
}

// NamespacedKey pairs a namespace-qualified key with an optional presence
// flag, matching the Rust client's delete_many((namespace, id?))* shape:
// entries whose Key is unset are skipped, and the whole call is a no-op if
// none are set.
type NamespacedKey struct {
	Key string
	Ok  bool
}

// DelMany batches every present key into a single DEL. It is a no-op if no
// entry is present.
func (s *Store) DelMany(ctx context.Context, keys []NamespacedKey) error {
	present := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Ok && k.Key != "" {
			present = append(present, k.Key)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, present...).Err(); err != nil {
		return wrap("DEL", err)
	}
	return nil
}

// LPush pushes value onto the left of the list at key. Used only by the
// notification delivery queue.
func (s *Store) LPush(ctx context.Context, key string, value string) error {
	if err := s.client.LPush(ctx, key, value).Err(); err != nil {
		return wrap("LPUSH", err)
	}
	return nil
}

// BRPop blocks waiting for an item on key, up to timeout. A timeout of 0
// means infinite, matching the Rust client's convention. Returns ("", false,
// nil) on timeout.
func (s *Store) BRPop(ctx context.Context, key string, timeout time.Duration) (string, bool, error) {
	res, err := s.client.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("BRPOP", err)
	}
	// BRPop returns [key, value].
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// SetOp is one operation in a pipelined SET EX burst.
type SetOp struct {
	Key    string
	Data   string
	Expiry time.Duration
}

// Pipeline executes a sequence of SET EX operations in a single round trip.
// Not transactional — partial application on error is acceptable,
// since the cache is never the system of record.
func (s *Store) Pipeline(ctx context.Context, ops []SetOp) error {
	if len(ops) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, op := range ops {
		expiry := op.Expiry
		if expiry <= 0 {
			expiry = DefaultExpiry
		}
		pipe.SetEx(ctx, op.Key, op.Data, expiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("PIPELINE", err)
	}
	return nil
}

// PoolStats reports the four specified gauges.
type PoolStats struct {
	MaxSize   int
	Size      int
	Available int
	Waiting   int
}

// Stats samples the current pool health. go-redis does not expose a live
// waiter gauge the way the original deadpool-backed client did; Waiting is
// approximated from the cumulative pool-timeout counter, which is the
// closest signal go-redis's PoolStats provides for callers piling up behind
// an exhausted pool.
func (s *Store) Stats() PoolStats {
	st := s.client.PoolStats()
	return PoolStats{
		MaxSize:   s.maxSize,
		Size:      int(st.TotalConns),
		Available: int(st.IdleConns),
		Waiting:   int(st.Timeouts),
	}
}

// Client exposes the underlying redis.UniversalClient for adapters that
// need a raw escape hatch (e.g. the pool reaper reading PoolStats directly).
func (s *Store) Client() redis.UniversalClient {
	return s.client
}
