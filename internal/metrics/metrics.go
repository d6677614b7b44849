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

	projectStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "starts_total",
			Help:      "Number of successful project starts.",
		}, []string{"project"},
	)
	projectStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "start_failures_total",
			Help:      "Number of failed start attempts (spawn errors and timeouts).",
		}, []string{"project"},
	)
	projectStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "stops_total",
			Help:      "Number of explicit stops.",
		}, []string{"project"},
	)
	projectForcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "forced_kills_total",
			Help:      "Number of stops that escalated to SIGKILL.",
		}, []string{"project"},
	)
	projectRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "restarts_total",
			Help:      "Number of restarts.",
		}, []string{"project"},
	)
	spawnConfirmation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "spawn_confirmation_seconds",
			Help:      "Time from start request to spawn confirmation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"project"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between different project states.",
		}, []string{"project", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "current_state",
			Help:      "Current state of projects (1 = active state, 0 = inactive).",
		}, []string{"project", "state"},
	)
	supervisedProjects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devserd",
			Subsystem: "project",
			Name:      "supervised",
			Help:      "Number of project records currently supervised.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		projectStarts, projectStartFailures, projectStops, projectForcedKills,
		projectRestarts, spawnConfirmation, stateTransitions, currentStates,
		supervisedProjects,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(project string) {
	if regOK.Load() {
		projectStarts.WithLabelValues(project).Inc()
	}
}

func IncStartFailure(project string) {
	if regOK.Load() {
		projectStartFailures.WithLabelValues(project).Inc()
	}
}

func IncStop(project string) {
	if regOK.Load() {
		projectStops.WithLabelValues(project).Inc()
	}
}

func IncForcedKill(project string) {
	if regOK.Load() {
		projectForcedKills.WithLabelValues(project).Inc()
	}
}

func IncRestart(project string) {
	if regOK.Load() {
		projectRestarts.WithLabelValues(project).Inc()
	}
}

func ObserveSpawnConfirmation(project string, seconds float64) {
	if regOK.Load() {
		spawnConfirmation.WithLabelValues(project).Observe(seconds)
	}
}

func RecordStateTransition(project, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(project, from, to).Inc()
	}
}

func SetCurrentState(project, state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentStates.WithLabelValues(project, state).Set(value)
	}
}

// ForgetProject drops the per-project state gauge series after a record is
// removed so stale states do not linger. Counters are kept.
func ForgetProject(project string) {
	if !regOK.Load() {
		return
	}
	currentStates.DeletePartialMatch(prometheus.Labels{"project": project})
}

func SetSupervised(n int) {
	if regOK.Load() {
		supervisedProjects.Set(float64(n))
	}
}
