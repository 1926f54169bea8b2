package browser

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "browser_sessions_created_total",
		Help:      "Remote browser sessions created by the pool.",
	})
	metricSessionsTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "browser_sessions_terminated_total",
		Help:      "Remote browser sessions terminated by the pool.",
	})
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowlens",
		Name:      "browser_sessions_active",
		Help:      "Sessions currently leased to flow runs.",
	})
	metricSessionsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowlens",
		Name:      "browser_sessions_idle",
		Help:      "Ready sessions waiting in the pool.",
	})
	metricPoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "browser_pool_exhausted_total",
		Help:      "Acquire calls that failed because no session became available.",
	})
	metricAcquireWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowlens",
		Name:      "browser_acquire_wait_seconds",
		Help:      "Time spent waiting for a session lease.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})
)
