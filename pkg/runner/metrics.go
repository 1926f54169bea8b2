package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowlens",
		Name:      "flow_runs_total",
		Help:      "Completed flow runs by verdict.",
	}, []string{"verdict"})

	metricRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowlens",
		Name:      "flow_run_duration_seconds",
		Help:      "Wall-clock duration of flow runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
