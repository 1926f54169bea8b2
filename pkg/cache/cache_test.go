package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlens/flowlens/pkg/vision"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
	failGet bool
	failPut bool
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[string]*Entry), now: time.Now}
}

func (r *memRepo) GetCachedVisionResult(ctx context.Context, key string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet {
		return nil, errors.New("backend unavailable")
	}
	e, ok := r.entries[key]
	if !ok || !e.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	e.HitCount++
	copied := *e
	return &copied, nil
}

func (r *memRepo) CacheVisionResult(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPut {
		return errors.New("backend unavailable")
	}
	if _, ok := r.entries[entry.Key]; !ok {
		copied := *entry
		r.entries[entry.Key] = &copied
	}
	return nil
}

func passAnalysis(confidence int) *vision.Analysis {
	return &vision.Analysis{Status: vision.StatusPass, Confidence: confidence}
}

func TestKeyCanonical(t *testing.T) {
	a := Key{ScreenshotHash: "ab", Assertion: "c", Model: "m", PromptVersion: "v1"}
	b := Key{ScreenshotHash: "a", Assertion: "bc", Model: "m", PromptVersion: "v1"}
	assert.NotEqual(t, a.String(), b.String())
	assert.Equal(t, a.String(), a.String())
	assert.Len(t, a.String(), 64)
}

func TestKeyChangesWithEveryField(t *testing.T) {
	base := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}
	variants := []Key{
		{ScreenshotHash: "h2", Assertion: "a", Model: "m", PromptVersion: "v1"},
		{ScreenshotHash: "h", Assertion: "a2", Model: "m", PromptVersion: "v1"},
		{ScreenshotHash: "h", Assertion: "a", Model: "m2", PromptVersion: "v1"},
		{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v2"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.String(), v.String())
	}
}

func TestGetOrComputeMissThenHit(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: HashScreenshot([]byte("png")), Assertion: "cart has one item", Model: "m", PromptVersion: "v1"}

	var computes int32
	compute := func(ctx context.Context) *vision.Analysis {
		atomic.AddInt32(&computes, 1)
		return passAnalysis(90)
	}

	first := c.GetOrCompute(context.Background(), key, compute)
	require.Equal(t, vision.StatusPass, first.Status)
	assert.False(t, first.Cached)

	second := c.GetOrCompute(context.Background(), key, compute)
	assert.True(t, second.Cached)
	assert.Equal(t, 90, second.Confidence)
	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
}

func TestGetOrComputeConcurrentMissComputesOnce(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	var computes int32
	started := make(chan struct{})
	compute := func(ctx context.Context) *vision.Analysis {
		atomic.AddInt32(&computes, 1)
		<-started
		return passAnalysis(75)
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*vision.Analysis, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.GetOrCompute(context.Background(), key, compute)
		}(i)
	}
	// Let the callers pile onto the flight before the compute returns.
	time.Sleep(50 * time.Millisecond)
	close(started)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&computes))
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, vision.StatusPass, r.Status)
		assert.Equal(t, 75, r.Confidence)
	}
}

func TestGetOrComputeHitIncrementsCount(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return passAnalysis(80)
	})

	const hits = 8
	var wg sync.WaitGroup
	for i := 0; i < hits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
				t.Error("compute ran on a warm cache")
				return passAnalysis(0)
			})
		}()
	}
	wg.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, hits, repo.entries[key.String()].HitCount)
}

func TestGetOrComputeExpiredEntryRecomputes(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, time.Minute, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return passAnalysis(80)
	})

	// Age the entry past its TTL.
	repo.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	var computes int32
	result := c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		atomic.AddInt32(&computes, 1)
		return passAnalysis(65)
	})
	assert.Equal(t, int32(1), computes)
	assert.Equal(t, 65, result.Confidence)
	assert.False(t, result.Cached)
}

func TestGetOrComputeErrorAnalysisNotStored(t *testing.T) {
	repo := newMemRepo()
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	errored := c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return vision.ErrorAnalysis("model unavailable")
	})
	require.Equal(t, vision.StatusError, errored.Status)

	retried := c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return passAnalysis(70)
	})
	assert.Equal(t, vision.StatusPass, retried.Status)
	assert.False(t, retried.Cached)
}

func TestGetOrComputeBackendFailureFallsBackToCompute(t *testing.T) {
	repo := newMemRepo()
	repo.failGet = true
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	result := c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return passAnalysis(55)
	})
	require.Equal(t, vision.StatusPass, result.Status)
	assert.Equal(t, 55, result.Confidence)
}

func TestGetOrComputeStoreFailureStillReturnsResult(t *testing.T) {
	repo := newMemRepo()
	repo.failPut = true
	c := New(repo, 0, nil)
	key := Key{ScreenshotHash: "h", Assertion: "a", Model: "m", PromptVersion: "v1"}

	result := c.GetOrCompute(context.Background(), key, func(ctx context.Context) *vision.Analysis {
		return passAnalysis(60)
	})
	require.Equal(t, vision.StatusPass, result.Status)
	assert.Equal(t, 60, result.Confidence)
}
