package cachekeys

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgereg/cachelayer/cachestore"
	"github.com/forgereg/cachelayer/coalesce"
	"github.com/forgereg/cachelayer/codec"
)

type project struct {
	Name string `json:"name"`
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestEngine(t *testing.T) (*Engine[project], *cachestore.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cachestore.NewFromClient(client, 10, nil)
	eng := New[project](store, coalesce.New(), func() string { return "" }, nil)
	return eng, store
}

func params() Params {
	slugs := codec.Namespace("projects_slugs")
	return Params{Namespace: codec.Namespace("projects"), SlugNamespace: &slugs, CaseSensitive: true}
}

func TestSlugResolvesToCanonicalAndSeedsBothKeys(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		atomic.AddInt32(&calls, 1)
		alias := "alpha"
		return map[string]LoaderResult[project]{
			"42": {Alias: &alias, Val: project{Name: "A"}},
		}, nil
	}

	out, err := eng.GetCachedKeys(ctx, params(), []string{"alpha"}, loader)
	require.NoError(t, err)
	require.Equal(t, "A", out["42"].Name)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	raw, ok, err := store.Get(ctx, "_projects:42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"alias":"alpha"`)

	slugVal, ok, err := store.Get(ctx, "_projects_slugs:alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "42", slugVal)

	// Second read by canonical id is now a pure cache hit; loader not re-called.
	out2, err := eng.GetCachedKeys(ctx, params(), []string{"42"}, loader)
	require.NoError(t, err)
	require.Equal(t, "A", out2["42"].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConcurrentMissesCallLoaderOnce(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		return map[string]LoaderResult[project]{
			"7": {Val: project{Name: "Seven"}},
		}, nil
	}

	const n = 50
	results := make(chan project, n)
	for i := 0; i < n; i++ {
		go func() {
			out, err := eng.GetCachedKeys(ctx, params(), []string{"7"}, loader)
			if err == nil {
				results <- out["7"]
			} else {
				results <- project{}
			}
		}()
	}

	for i := 0; i < n; i++ {
		got := <-results
		assert.Equal(t, "Seven", got.Name)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestSoftExpiredEntryServedAsFallbackWhileRefreshInFlight(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	eng.SetClock(&fakeClock{t: base})

	staleEnv := codec.Envelope[string, string, project]{
		Key:      "9",
		IssuedAt: base.Add(-31 * time.Minute).Unix(),
		Val:      project{Name: "Stale"},
	}
	data, err := codec.Marshal(staleEnv)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "_projects:9", data, cachestore.DefaultExpiry))

	refreshStarted := make(chan struct{})
	refreshRelease := make(chan struct{})
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		close(refreshStarted)
		<-refreshRelease
		return map[string]LoaderResult[project]{
			"9": {Val: project{Name: "Fresh"}},
		}, nil
	}

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		out, err := eng.GetCachedKeys(ctx, params(), []string{"9"}, loader)
		assert.NoError(t, err)
		assert.Equal(t, "Fresh", out["9"].Name)
	}()

	<-refreshStarted

	out, err := eng.GetCachedKeys(ctx, params(), []string{"9"}, func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		t.Fatal("second reader must not invoke the loader while a refresh is in flight")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Stale", out["9"].Name)

	close(refreshRelease)
	<-refreshDone

	refreshed, ok, err := store.Get(ctx, "_projects:9")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, refreshed, `"name":"Fresh"`)
}

func TestHardExpiredEntryIsNeverServed(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	eng.SetClock(&fakeClock{t: base})

	env := codec.Envelope[string, string, project]{
		Key:      "5",
		IssuedAt: base.Add(-13 * time.Hour).Unix(),
		Val:      project{Name: "TooOld"},
	}
	data, err := codec.Marshal(env)
	require.NoError(t, err)
	// Store directly with a short TTL to simulate an entry the cache store
	// itself would already have expired; the engine must not serve it even
	// if it somehow survived.
	require.NoError(t, store.Set(ctx, "_projects:5", data, time.Hour))

	var calls int32
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		atomic.AddInt32(&calls, 1)
		return map[string]LoaderResult[project]{"5": {Val: project{Name: "Reloaded"}}}, nil
	}

	out, err := eng.GetCachedKeys(ctx, params(), []string{"5"}, loader)
	require.NoError(t, err)
	assert.Equal(t, "Reloaded", out["5"].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReadByBase62FormFindsCanonicalEntry(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var calls int32
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		atomic.AddInt32(&calls, 1)
		return map[string]LoaderResult[project]{"123456": {Val: project{Name: "B62"}}}, nil
	}

	_, err := eng.GetCachedKeys(ctx, params(), []string{"123456"}, loader)
	require.NoError(t, err)

	shortID := codec.ToBase62(123456)
	out, err := eng.GetCachedKeys(ctx, params(), []string{shortID}, loader)
	require.NoError(t, err)
	assert.Equal(t, "B62", out["123456"].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRoundTripsAreBoundedRegardlessOfInputCount(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	ids := make([]string, 0, 20)
	seedVals := make(map[string]LoaderResult[project])
	for i := 1; i <= 20; i++ {
		id := strconv.Itoa(i)
		ids = append(ids, id)
		seedVals[id] = LoaderResult[project]{Val: project{Name: id}}
	}

	var calls int32
	loader := func(ctx context.Context, ids []string) (map[string]LoaderResult[project], error) {
		atomic.AddInt32(&calls, 1)
		return seedVals, nil
	}

	out, err := eng.GetCachedKeys(ctx, params(), ids, loader)
	require.NoError(t, err)
	require.Len(t, out, 20)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
