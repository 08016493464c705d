// Package metrics exposes the orchestrator's Prometheus collectors and
// the per-task outcome log written when sessions reach a terminal
// status.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors. One instance per orchestrator, shared by
// the session manager and the lifecycle controller.
type Metrics struct {
	SessionsSpawned *prometheus.CounterVec
	SessionsKilled  *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	ReactionsFired  *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	LiveSessions    *prometheus.GaugeVec
	Outcomes        *prometheus.CounterVec
}

// New builds and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao",
			Name:      "sessions_spawned_total",
			Help:      "Sessions spawned, by project.",
		}, []string{"project"}),
		SessionsKilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao",
			Name:      "sessions_killed_total",
			Help:      "Sessions killed, by project.",
		}, []string{"project"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao",
			Name:      "session_transitions_total",
			Help:      "Session status transitions, by resulting status.",
		}, []string{"status"}),
		ReactionsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao",
			Name:      "reactions_fired_total",
			Help:      "Reactions fired, by reaction key and action.",
		}, []string{"key", "action"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ao",
			Name:      "controller_tick_seconds",
			Help:      "Wall time of one lifecycle controller tick.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ao",
			Name:      "live_sessions",
			Help:      "Currently live sessions, by project.",
		}, []string{"project"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ao",
			Name:      "session_outcomes_total",
			Help:      "Sessions reaching a terminal status, by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.SessionsSpawned, m.SessionsKilled, m.Transitions,
		m.ReactionsFired, m.TickDuration, m.LiveSessions, m.Outcomes,
	)
	return m
}
