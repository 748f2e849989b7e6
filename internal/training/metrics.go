// Package training Prometheus metrics.
package training

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sessions by kind and terminal status.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "training",
			Name:      "sessions_total",
			Help:      "Total number of training sessions by terminal status",
		},
		[]string{"kind", "status"},
	)

	// SessionDuration observes session wall-clock time by kind.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "learnd",
			Subsystem: "training",
			Name:      "session_duration_seconds",
			Help:      "Training session duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"kind"},
	)

	// QueueDepth tracks the number of sessions waiting to run.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "learnd",
			Subsystem: "training",
			Name:      "queue_depth",
			Help:      "Number of training sessions waiting in the queue",
		},
	)
)
