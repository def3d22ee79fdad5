package invalidation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
)

func present(key string) cachestore.NamespacedKey {
	return cachestore.NamespacedKey{Key: key, Ok: true}
}

func absent() cachestore.NamespacedKey {
	return cachestore.NamespacedKey{Ok: false}
}

type recordingAudit struct {
	logs []AuditLog
}

func (r *recordingAudit) Insert(ctx context.Context, log AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func newTestFanOut(t *testing.T, audit AuditWriter) (*FanOut, *cachestore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cachestore.NewFromClient(client, 10, nil)
	return New(store, audit, nil), store, mr
}

func TestInvalidateDeletesPresentKeys(t *testing.T) {
	fo, store, mr := newTestFanOut(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "projects:3", "cached", 0))
	require.NoError(t, store.Set(ctx, "projects_slugs:old", "cached", 0))

	err := fo.Invalidate(ctx, "test", []Qualifier{present("projects:3"), present("projects_slugs:old")})
	require.NoError(t, err)
	assert.False(t, mr.Exists("projects:3"))
	assert.False(t, mr.Exists("projects_slugs:old"))
}

func TestInvalidateDropsAbsentPairs(t *testing.T) {
	fo, store, mr := newTestFanOut(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "projects:3", "cached", 0))

	err := fo.Invalidate(ctx, "test", []Qualifier{present("projects:3"), absent()})
	require.NoError(t, err)
	assert.False(t, mr.Exists("projects:3"))
}

// TestInvalidateIsIdempotentUnderDuplicates asserts that repeating a pair
// in the input has no different effect than passing it once.
func TestInvalidateIsIdempotentUnderDuplicates(t *testing.T) {
	fo, store, mr := newTestFanOut(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "projects:3", "cached", 0))

	err := fo.Invalidate(ctx, "test", []Qualifier{present("projects:3"), present("projects:3"), present("projects:3")})
	require.NoError(t, err)
	assert.False(t, mr.Exists("projects:3"))
}

func TestInvalidateWithNoPresentPairsIsNoop(t *testing.T) {
	fo, _, _ := newTestFanOut(t, nil)
	err := fo.Invalidate(context.Background(), "test", []Qualifier{absent()})
	require.NoError(t, err)
}

func TestInvalidateRecordsAuditRow(t *testing.T) {
	audit := &recordingAudit{}
	fo, store, _ := newTestFanOut(t, audit)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "projects:3", "cached", 0))

	err := fo.Invalidate(ctx, "mutation:rename", []Qualifier{present("projects:3")})
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "mutation:rename", audit.logs[0].TriggeredBy)
	assert.Contains(t, audit.logs[0].Keys, "projects:3")
}

func TestSummarizePatternSingleNamespace(t *testing.T) {
	assert.Equal(t, "projects:*", summarizePattern([]string{"projects:3", "projects:4"}))
}

func TestSummarizePatternMultipleNamespacesSortedAndDeduped(t *testing.T) {
	got := summarizePattern([]string{"projects_slugs:new", "projects:3", "projects_slugs:old"})
	assert.Equal(t, "projects:*,projects_slugs:*", got)
}
