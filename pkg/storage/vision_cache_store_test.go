package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/pkg/cache"
	"github.com/flowlens/flowlens/pkg/vision"
)

func sampleEntry(key string, expiresAt time.Time) *cache.Entry {
	return &cache.Entry{
		Key:          key,
		Status:       vision.StatusPass,
		Confidence:   88,
		Issues:       []string{"low contrast footer"},
		Suggestions:  []string{"darken footer text"},
		InputTokens:  1200,
		OutputTokens: 80,
		CostUSD:      0.0048,
		CreatedAt:    expiresAt.Add(-cache.DefaultTTL),
		ExpiresAt:    expiresAt,
	}
}

func TestCacheVisionResultRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := sampleEntry("key-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, store.CacheVisionResult(ctx, want))

	got, err := store.GetCachedVisionResult(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, vision.StatusPass, got.Status)
	assert.Equal(t, 88, got.Confidence)
	assert.Equal(t, []string{"low contrast footer"}, got.Issues)
	assert.Equal(t, []string{"darken footer text"}, got.Suggestions)
	assert.Equal(t, 1200, got.InputTokens)
	assert.Equal(t, 1, got.HitCount)
}

func TestGetCachedVisionResultMiss(t *testing.T) {
	store := testStore(t)

	got, err := store.GetCachedVisionResult(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCachedVisionResultExpired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	expired := sampleEntry("key-1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, store.CacheVisionResult(ctx, expired))

	got, err := store.GetCachedVisionResult(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The miss must not have bumped the stored hit count.
	var hits int
	require.NoError(t, store.DB().QueryRow(
		"SELECT hit_count FROM vision_cache WHERE key = 'key-1'").Scan(&hits))
	assert.Equal(t, 0, hits)
}

func TestConcurrentHitsIncrementExactly(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("key-1", time.Now().UTC().Add(time.Hour))))

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := store.GetCachedVisionResult(ctx, "key-1")
			assert.NoError(t, err)
			assert.NotNil(t, entry)
		}()
	}
	wg.Wait()

	var hits int
	require.NoError(t, store.DB().QueryRow(
		"SELECT hit_count FROM vision_cache WHERE key = 'key-1'").Scan(&hits))
	assert.Equal(t, callers, hits)
}

func TestCacheVisionResultCreateIfAbsent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := sampleEntry("key-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, store.CacheVisionResult(ctx, first))

	second := sampleEntry("key-1", time.Now().UTC().Add(time.Hour))
	second.Confidence = 10
	require.NoError(t, store.CacheVisionResult(ctx, second))

	got, err := store.GetCachedVisionResult(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 88, got.Confidence)
}

func TestPurgeExpiredVisionResults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("live", time.Now().UTC().Add(time.Hour))))
	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("dead-1", time.Now().UTC().Add(-time.Minute))))
	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("dead-2", time.Now().UTC().Add(-time.Hour))))

	purged, err := store.PurgeExpiredVisionResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	live, err := store.GetCachedVisionResult(ctx, "live")
	require.NoError(t, err)
	assert.NotNil(t, live)
}

func TestGetVisionCacheStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("live", time.Now().UTC().Add(time.Hour))))
	require.NoError(t, store.CacheVisionResult(ctx, sampleEntry("dead", time.Now().UTC().Add(-time.Minute))))

	_, err := store.GetCachedVisionResult(ctx, "live")
	require.NoError(t, err)

	stats, err := store.GetVisionCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, int64(1), stats.TotalHits)
}
