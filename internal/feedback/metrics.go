// Package feedback Prometheus metrics.
package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsTotal counts feedback items processed by kind.
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "feedback",
			Name:      "items_total",
			Help:      "Total number of feedback items processed",
		},
		[]string{"kind"},
	)

	// ActionsTotal counts improvement actions by kind and outcome.
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnd",
			Subsystem: "feedback",
			Name:      "actions_total",
			Help:      "Total number of improvement actions by outcome",
		},
		[]string{"kind", "status"},
	)
)
