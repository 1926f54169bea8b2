package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "vision_cache_hits_total",
		Help:      "Vision verdicts served from the cache.",
	})
	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "vision_cache_misses_total",
		Help:      "Vision cache lookups that required a model call.",
	})
	metricDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "vision_cache_deduped_total",
		Help:      "Concurrent lookups coalesced into another caller's model call.",
	})
	metricErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "vision_cache_errors_total",
		Help:      "Cache backend failures that degraded to a direct model call.",
	})
)
