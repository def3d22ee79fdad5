// Package cachekeys implements the cached-keys engine: the public read API
// that turns a list of identifiers and a loader closure into a fully
// populated result set, transparently splitting work across cache hits,
// soft-expired fallbacks, in-flight subscriptions, and fresh loads.
//
// The algorithm is five phases, run in the order named:
//
//	A. resolve slug/alias inputs to canonical keys via MGET
//	B. batched MGET of the entity namespace (raw, base-62-decoded, and
//	   alias-resolved forms), splitting hits into fresh vs soft-expired
//	C. per-pending-input single-flight lock acquisition
//	D. concurrent load (writers) and wait (subscribers) sub-tasks
//	E. flatten to the caller's result map
//
// Grounded on the Rust get_cached_keys_raw_with_slug implementation this
// system's caching layer is modeled after.
package cachekeys

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/forgereg/cachelayer/cachestore"
	"github.com/forgereg/cachelayer/coalesce"
	"github.com/forgereg/cachelayer/codec"
)

// SubscriberWait is the ceiling a Phase D wait task will block for before
// giving up on an in-flight writer and retrying the cache read itself.
const SubscriberWait = 5 * time.Second

// LoaderResult is what a loader closure returns for one resolved entity:
// its optional alias (slug, token) and its payload.
type LoaderResult[V any] struct {
	Alias *string
	Val   V
}

// LoaderFunc loads the given pending identifiers from the system of record
// and returns a map keyed by canonical key (decimal id, stringified) to the
// resolved alias and payload. A loader need not return an entry for every
// input; inputs with no entry are simply absent from the caller's result.
type LoaderFunc[V any] func(ctx context.Context, ids []string) (map[string]LoaderResult[V], error)

// Params configures one GetCachedKeys call.
type Params struct {
	Namespace     codec.Namespace
	SlugNamespace *codec.Namespace
	CaseSensitive bool
}

// Engine is the cached-keys read path for one payload type V.
type Engine[V any] struct {
	store    *cachestore.Store
	coord    *coalesce.Coordinator
	metaFunc func() string
	log      *zap.Logger
	clock    Clock
}

// New builds an Engine. metaFunc is called on every request so that a live
// config reload of META_NAMESPACE takes effect without restarting.
func New[V any](store *cachestore.Store, coord *coalesce.Coordinator, metaFunc func() string, log *zap.Logger) *Engine[V] {
	if log == nil {
		log = zap.NewNop()
	}
	if metaFunc == nil {
		metaFunc = func() string { return "" }
	}
	return &Engine[V]{store: store, coord: coord, metaFunc: metaFunc, log: log, clock: systemClock{}}
}

// SetClock overrides the engine's clock. Used by tests to pin "now" against
// the soft-TTL boundary instead of sleeping real wall-clock time.
func (e *Engine[V]) SetClock(c Clock) {
	if c != nil {
		e.clock = c
	}
}

type envEnvelope[V any] = codec.Envelope[string, string, V]

// candidateSet maps a fully-qualified candidate key to the original inputs
// that could be satisfied by a hit at that key.
type candidateSet map[string][]string

func (e *Engine[V]) fqKey(ns codec.Namespace, id string, caseSensitive bool) string {
	return codec.FullyQualifiedKey(e.metaFunc(), ns, codec.Lowered(id, caseSensitive))
}

// GetCachedKeys is the engine's sole public entry point.
func (e *Engine[V]) GetCachedKeys(ctx context.Context, p Params, ids []string, load LoaderFunc[V]) (map[string]V, error) {
	result := make(map[string]V)
	if len(ids) == 0 {
		return result, nil
	}

	// Phase A — resolve slug/alias inputs to canonical keys.
	aliasResolved := e.phaseA(ctx, p, ids)

	// Phase B — batched lookup, first pass over every input.
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}
	expiredByInput := make(map[string]envEnvelope[V])
	if err := e.phaseB(ctx, p, ids, aliasResolved, result, pending, expiredByInput); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	// Phase C — per-pending-input lock acquisition.
	type loadSlot struct {
		input string
		w     *coalesce.Writer
	}
	type waitSlot struct {
		input string
		s     *coalesce.Subscriber
	}
	var toLoad []loadSlot
	var toWait []waitSlot

	for input := range pending {
		fq := e.fqKey(p.Namespace, input, p.CaseSensitive)
		w, s := e.coord.Acquire(fq)
		if w != nil {
			toLoad = append(toLoad, loadSlot{input: input, w: w})
			continue
		}
		if env, ok := expiredByInput[input]; ok {
			result[env.Key] = env.Val
			continue
		}
		toWait = append(toWait, waitSlot{input: input, s: s})
	}

	// Phase D — concurrent load and wait sub-tasks.
	g, gctx := errgroup.WithContext(ctx)

	var loadErr error
	if len(toLoad) > 0 {
		g.Go(func() error {
			loadInputs := make([]string, len(toLoad))
			for i, slot := range toLoad {
				loadInputs[i] = slot.input
			}

			loaded, err := load(gctx, loadInputs)
			// Writers are released regardless of loader outcome: a failed
			// load must still wake subscribers so they fall through to
			// their own retry rather than hang until the 5s ceiling.
			defer func() {
				for _, slot := range toLoad {
					slot.w.Release()
				}
			}()
			if err != nil {
				loadErr = err
				return err
			}

			if err := e.writeLoaded(gctx, p, loaded, result); err != nil {
				e.log.Warn("cachekeys: failed to persist loaded entries", zap.Error(err))
			}
			return nil
		})
	}

	var retryInputs []string
	var retryMu sync.Mutex
	if len(toWait) > 0 {
		g.Go(func() error {
			var wg errgroup.Group
			for _, slot := range toWait {
				slot := slot
				wg.Go(func() error {
					slot.s.Wait(gctx, SubscriberWait)
					retryMu.Lock()
					retryInputs = append(retryInputs, slot.input)
					retryMu.Unlock()
					return nil
				})
			}
			return wg.Wait()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, loadErr
	}

	// Single retry pass over whatever the wait task gathered.
	if len(retryInputs) > 0 {
		retryPending := make(map[string]struct{}, len(retryInputs))
		for _, in := range retryInputs {
			retryPending[in] = struct{}{}
		}
		if err := e.phaseB(ctx, p, retryInputs, aliasResolved, result, retryPending, nil); err != nil {
			e.log.Warn("cachekeys: retry phase B failed", zap.Error(err))
		}
	}

	return result, nil
}

// phaseA resolves slug/alias inputs to canonical keys via a single MGET of
// the slug namespace. Returns a map from original input to the canonical
// key string it resolved to.
func (e *Engine[V]) phaseA(ctx context.Context, p Params, ids []string) map[string]string {
	resolved := make(map[string]string)
	if p.SlugNamespace == nil {
		return resolved
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = e.fqKey(*p.SlugNamespace, id, p.CaseSensitive)
	}

	vals, err := e.store.MGet(ctx, keys)
	if err != nil {
		e.log.Warn("cachekeys: phase A MGET failed, treating as total miss", zap.Error(err))
		return resolved
	}
	for i, v := range vals {
		if v == nil {
			continue
		}
		resolved[ids[i]] = *v
	}
	return resolved
}

// phaseB runs the batched entity-namespace lookup for ids, folding fresh
// hits into result (removing the satisfied inputs from pending) and
// recording soft-expired hits into expiredByInput (ids param, not pending,
// drives which inputs were checked this pass; expiredByInput may be nil on
// the retry pass since Phase C's fallback only applies to the first pass).
func (e *Engine[V]) phaseB(
	ctx context.Context,
	p Params,
	ids []string,
	aliasResolved map[string]string,
	result map[string]V,
	pending map[string]struct{},
	expiredByInput map[string]envEnvelope[V],
) error {
	candidates := make(candidateSet)
	addCandidate := func(key, input string) {
		candidates[key] = append(candidates[key], input)
	}

	for _, id := range ids {
		addCandidate(e.fqKey(p.Namespace, id, p.CaseSensitive), id)
		if num, ok := codec.ParseBase62(id); ok {
			dec := strconv.FormatUint(num, 10)
			addCandidate(e.fqKey(p.Namespace, dec, p.CaseSensitive), id)
		}
		if canon, ok := aliasResolved[id]; ok {
			addCandidate(e.fqKey(p.Namespace, canon, p.CaseSensitive), id)
		}
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}

	vals, err := e.store.MGet(ctx, keys)
	if err != nil {
		e.log.Warn("cachekeys: phase B MGET failed, treating as total miss", zap.Error(err))
		return nil
	}

	now := e.clock.Now().Unix()
	for i, v := range vals {
		if v == nil {
			continue
		}
		env, err := codec.Unmarshal[string, string, V](*v)
		if err != nil {
			e.log.Warn("cachekeys: malformed envelope, treating as miss", zap.Error(err))
			continue
		}

		// Past the hard TTL the entry is a plain miss, never a fallback.
		if env.IssuedAt+int64(cachestore.DefaultExpiry.Seconds()) < now {
			continue
		}

		inputs := candidates[keys[i]]
		fresh := env.IssuedAt+int64(cachestore.SoftExpiry.Seconds()) >= now
		if fresh {
			result[env.Key] = env.Val
			for _, in := range inputs {
				delete(pending, in)
			}
			continue
		}

		if expiredByInput != nil {
			for _, in := range inputs {
				expiredByInput[in] = env
			}
		}
	}

	return nil
}

// writeLoaded persists every loaded entry (canonical + alias) via a single
// pipeline flush and folds the payloads into result.
func (e *Engine[V]) writeLoaded(ctx context.Context, p Params, loaded map[string]LoaderResult[V], result map[string]V) error {
	if len(loaded) == 0 {
		return nil
	}

	now := e.clock.Now().Unix()
	ops := make([]cachestore.SetOp, 0, len(loaded)*2)

	for canonKey, lr := range loaded {
		env := envEnvelope[V]{Key: canonKey, IssuedAt: now, Val: lr.Val}
		if lr.Alias != nil {
			env.Alias = lr.Alias
		}
		data, err := codec.Marshal(env)
		if err != nil {
			e.log.Warn("cachekeys: failed to marshal loaded envelope", zap.Error(err))
			continue
		}
		ops = append(ops, cachestore.SetOp{
			Key:    e.fqKey(p.Namespace, canonKey, p.CaseSensitive),
			Data:   data,
			Expiry: cachestore.DefaultExpiry,
		})

		if lr.Alias != nil && p.SlugNamespace != nil {
			ops = append(ops, cachestore.SetOp{
				Key:    e.fqKey(*p.SlugNamespace, *lr.Alias, p.CaseSensitive),
				Data:   canonKey,
				Expiry: cachestore.DefaultExpiry,
			})
		}

		result[canonKey] = lr.Val
	}

	return e.store.Pipeline(ctx, ops)
}
