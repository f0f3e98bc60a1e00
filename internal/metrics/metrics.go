package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simgate",
			Subsystem: "backend",
			Name:      "spawns_total",
			Help:      "Number of backend spawn attempts by outcome (ok, error).",
		}, []string{"outcome"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simgate",
			Subsystem: "backend",
			Name:      "health_checks_total",
			Help:      "Number of liveness poll attempts by outcome (ok, error).",
		}, []string{"outcome"},
	)
	gateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simgate",
			Subsystem: "gate",
			Name:      "outcomes_total",
			Help:      "Readiness gate terminal outcomes (ready, exhausted).",
		}, []string{"outcome"},
	)
	timeToReady = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "simgate",
			Subsystem: "gate",
			Name:      "time_to_ready_seconds",
			Help:      "Elapsed time from spawn until the gate reported Ready.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simgate",
			Subsystem: "backend",
			Name:      "state_transitions_total",
			Help:      "Number of backend process state transitions.",
		}, []string{"from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{backendSpawns, healthChecks, gateOutcomes, timeToReady, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSpawn(outcome string) {
	if regOK.Load() {
		backendSpawns.WithLabelValues(outcome).Inc()
	}
}

func IncHealthCheck(outcome string) {
	if regOK.Load() {
		healthChecks.WithLabelValues(outcome).Inc()
	}
}

func IncGateOutcome(outcome string) {
	if regOK.Load() {
		gateOutcomes.WithLabelValues(outcome).Inc()
	}
}

func ObserveTimeToReady(seconds float64) {
	if regOK.Load() {
		timeToReady.Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}
