package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flowlens/flowlens/pkg/logging"
	"github.com/flowlens/flowlens/pkg/vision"
)

// DefaultTTL is how long a cached verdict stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one stored vision verdict.
type Entry struct {
	Key          string
	Status       vision.Status
	Confidence   int
	Issues       []string
	Suggestions  []string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	HitCount     int
}

// Repository is the persistence contract the cache runs on. GetCachedVisionResult
// must atomically increment the hit count of a live entry and return nil (not
// an error) when the key is absent or expired.
type Repository interface {
	GetCachedVisionResult(ctx context.Context, key string) (*Entry, error)
	CacheVisionResult(ctx context.Context, entry *Entry) error
}

// ComputeFunc produces a fresh analysis on a cache miss.
type ComputeFunc func(ctx context.Context) *vision.Analysis

// Cache deduplicates vision calls across runs (via the repository) and within
// a run (via singleflight, so concurrent misses on one key compute once).
type Cache struct {
	repo   Repository
	ttl    time.Duration
	logger *logging.Logger
	group  singleflight.Group
	clock  func() time.Time
}

// New builds a cache over the repository. A zero ttl means DefaultTTL.
func New(repo Repository, ttl time.Duration, logger *logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		clock:  time.Now,
	}
}

// GetOrCompute returns the cached analysis for the key, or runs compute and
// stores the result. Error-status analyses are never stored, so a transient
// model failure does not poison the cache for a week. Repository failures are
// logged and degrade to a direct compute.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) *vision.Analysis {
	keyStr := key.String()

	entry, err := c.repo.GetCachedVisionResult(ctx, keyStr)
	if err != nil {
		c.logError("cache_lookup_failed", keyStr, err)
		metricErrors.Inc()
		return compute(ctx)
	}
	if entry != nil {
		metricHits.Inc()
		c.logEvent("cache_hit", keyStr, map[string]any{"hit_count": entry.HitCount})
		return entryToAnalysis(entry)
	}
	metricMisses.Inc()

	result, err, shared := c.group.Do(keyStr, func() (any, error) {
		// Re-check under the flight: another caller may have stored the
		// entry between our miss and winning the flight.
		if entry, err := c.repo.GetCachedVisionResult(ctx, keyStr); err == nil && entry != nil {
			return entryToAnalysis(entry), nil
		}

		analysis := compute(ctx)
		if analysis.Status != vision.StatusError {
			now := c.clock()
			stored := &Entry{
				Key:          keyStr,
				Status:       analysis.Status,
				Confidence:   analysis.Confidence,
				Issues:       analysis.Issues,
				Suggestions:  analysis.Suggestions,
				InputTokens:  analysis.InputTokens,
				OutputTokens: analysis.OutputTokens,
				CostUSD:      analysis.CostUSD,
				CreatedAt:    now,
				ExpiresAt:    now.Add(c.ttl),
			}
			if err := c.repo.CacheVisionResult(ctx, stored); err != nil {
				c.logError("cache_store_failed", keyStr, err)
				metricErrors.Inc()
			}
		}
		return analysis, nil
	})
	if shared {
		metricDeduped.Inc()
	}
	if err != nil {
		// Do never returns an error from our fn; this guards against
		// singleflight's own failure modes.
		c.logError("cache_compute_failed", keyStr, err)
		return compute(ctx)
	}

	analysis := result.(*vision.Analysis)
	if shared {
		// Followers of a shared flight get a copy so callers can mark
		// Cached independently.
		copied := *analysis
		return &copied
	}
	return analysis
}

func entryToAnalysis(e *Entry) *vision.Analysis {
	return &vision.Analysis{
		Status:       e.Status,
		Confidence:   e.Confidence,
		Issues:       e.Issues,
		Suggestions:  e.Suggestions,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		CostUSD:      e.CostUSD,
		Cached:       true,
	}
}

func (c *Cache) logEvent(eventType, key string, details map[string]any) {
	if c.logger == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["key"] = key
	_ = c.logger.Log(logging.Event{
		Level:     logging.LevelDebug,
		Category:  logging.CategoryCache,
		EventType: eventType,
		Details:   details,
	})
}

func (c *Cache) logError(eventType, key string, err error) {
	if c.logger == nil {
		return
	}
	_ = c.logger.Log(logging.Event{
		Level:     logging.LevelWarn,
		Category:  logging.CategoryCache,
		EventType: eventType,
		Details:   map[string]any{"key": key, "error": err.Error()},
	})
}
