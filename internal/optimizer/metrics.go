// Package optimizer Prometheus metrics.
package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts optimization runs by method and status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "optimizer",
			Name:      "runs_total",
			Help:      "Total number of optimization runs by method and status",
		},
		[]string{"method", "status"},
	)

	// AppliedTotal counts results that cleared the apply rule.
	AppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "optimizer",
			Name:      "applied_total",
			Help:      "Total number of optimization results committed to the registry",
		},
	)

	// RunDuration tracks optimization run duration.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "learnd",
			Subsystem: "optimizer",
			Name:      "run_duration_seconds",
			Help:      "Duration of optimization runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// recordRun updates Prometheus metrics from a finished result.
func recordRun(r *Result) {
	RunsTotal.WithLabelValues(string(r.Method), string(r.Status)).Inc()
	RunDuration.Observe(r.Duration.Seconds())
	if r.Applied {
		AppliedTotal.Inc()
	}
}
