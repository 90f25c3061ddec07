// Package metrics exposes prometheus counters for the provisioning engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ServerCreations counts createServer outcomes per provider. Outcome is
	// one of "ready", "failed", "canceled".
	ServerCreations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_server_creations_total",
		Help: "Server creation attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ReconcileRemoved counts display records removed as orphans.
	ReconcileRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outpost_reconcile_removed_total",
		Help: "Display records removed because their cloud instance disappeared.",
	})

	// ReconcileRuns counts reconciliation passes by outcome ("ok", "error").
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outpost_reconcile_runs_total",
		Help: "Reconciliation passes by outcome.",
	}, []string{"outcome"})
)
