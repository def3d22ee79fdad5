// Package invalidation is the write-path counterpart to cachekeys: a
// mutation computes the set of (namespace, key) pairs it could have made
// stale and hands them to FanOut, which dedupes and deletes them in one
// round trip. It never talks to the database except to append an audit
// row describing what it deleted.
package invalidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forgereg/cachelayer/cachestore"
)

// AuditWriter persists a record of what a fan-out call deleted. Optional —
// FanOut works without one, just without the trail.
type AuditWriter interface {
	Insert(ctx context.Context, log AuditLog) error
}

// FanOut deduplicates and deletes invalidation pairs, optionally recording
// an audit trail of what it did.
type FanOut struct {
	store *cachestore.Store
	audit AuditWriter
	log   *zap.Logger
}

// New builds a FanOut. audit may be nil to skip persisted history.
func New(store *cachestore.Store, audit AuditWriter, log *zap.Logger) *FanOut {
	if log == nil {
		log = zap.NewNop()
	}
	return &FanOut{store: store, audit: audit, log: log}
}

// Qualifier is anything that can resolve itself into a deletable key —
// entities.InvalidationPair.Qualify(meta, caseSensitive) produces a
// cachestore.NamespacedKey directly, so adapters resolve their own
// meta-namespace and case sensitivity (which varies per namespace, e.g.
// slugs are case-insensitive but ids are not) before handing the result
// here. FanOut only dedupes and deletes.
type Qualifier = cachestore.NamespacedKey

// Invalidate deduplicates already-qualified keys, drops absent ones, and
// issues a single DEL. Must be called only after the mutating transaction
// has committed: calling it earlier lets a concurrent read race in and
// repopulate the cache with data that is about to become stale.
func (f *FanOut) Invalidate(ctx context.Context, triggeredBy string, pairs []Qualifier) error {
	start := time.Now()

	seen := make(map[string]struct{}, len(pairs))
	keys := make([]cachestore.NamespacedKey, 0, len(pairs))
	dedupedKeys := make([]string, 0, len(pairs))
	for _, nk := range pairs {
		if !nk.Ok || nk.Key == "" {
			continue
		}
		if _, dup := seen[nk.Key]; dup {
			continue
		}
		seen[nk.Key] = struct{}{}
		keys = append(keys, nk)
		dedupedKeys = append(dedupedKeys, nk.Key)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := f.store.DelMany(ctx, keys); err != nil {
		return fmt.Errorf("invalidation: delete: %w", err)
	}

	if f.audit != nil {
		record := AuditLog{
			Pattern:     summarizePattern(dedupedKeys),
			Keys:        dedupedKeys,
			TriggeredBy: triggeredBy,
			Timestamp:   start,
			LatencyMS:   time.Since(start).Milliseconds(),
		}
		if err := f.audit.Insert(ctx, record); err != nil {
			f.log.Warn("invalidation audit write failed", zap.Error(err), zap.String("triggered_by", triggeredBy))
		}
	}

	return nil
}

// summarizePattern reduces a deduplicated key list to a short wildcard
// summary ("projects:*", or "projects:*,projects_slugs:*" for a multi-
// namespace mutation like a rename) for the audit trail's pattern column.
// GetRecentMatching later reads this column back with PatternMatcher to
// let an operator filter audit history by namespace.
func summarizePattern(keys []string) string {
	seen := make(map[string]struct{}, len(keys))
	var prefixes []string
	for _, k := range keys {
		prefix := k
		if i := strings.LastIndex(k, ":"); i >= 0 {
			prefix = k[:i]
		}
		if _, dup := seen[prefix]; dup {
			continue
		}
		seen[prefix] = struct{}{}
		prefixes = append(prefixes, prefix+":*")
	}
	sort.Strings(prefixes)
	return strings.Join(prefixes, ",")
}
