// Package patterns Prometheus metrics.
package patterns

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcceptedTotal counts patterns accepted into the store by type.
	AcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "patterns",
			Name:      "accepted_total",
			Help:      "Total number of patterns accepted into the store",
		},
		[]string{"type"},
	)
)
