// Package metrics exposes the server's Prometheus instruments. A single
// Registry is wired through the dispatchers and transport; tests build
// their own so counters never bleed between cases.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the runtime records.
type Metrics struct {
	registry *prometheus.Registry

	CommandsTotal    *prometheus.CounterVec // labels: type
	CommandsAccepted *prometheus.CounterVec // labels: type
	CommandsRejected *prometheus.CounterVec // labels: type, code
	CommandLatency   *prometheus.SummaryVec // labels: type

	ReconnectAttempted  prometheus.Counter
	ReconnectSuccessful prometheus.Counter
	ReconnectFailed     prometheus.Counter

	SessionsActive prometheus.Gauge
	SessionsPeak   prometheus.Gauge

	GamesStarted   prometheus.Counter
	GamesCompleted prometheus.Counter
	GamesForfeited prometheus.Counter

	BroadcastEvents prometheus.Counter

	peakMu sync.Mutex
	peak   int64
}

// New builds a fresh metrics set registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "commands_total",
			Help:      "Commands received, by type.",
		}, []string{"type"}),
		CommandsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "commands_accepted_total",
			Help:      "Commands that produced a state transition, by type.",
		}, []string{"type"}),
		CommandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "commands_rejected_total",
			Help:      "Commands refused, by type and reject code.",
		}, []string{"type", "code"}),
		CommandLatency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  "euchre",
			Name:       "command_latency_seconds",
			Help:       "Dispatch latency from receipt to outcome.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"type"}),
		ReconnectAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "reconnect_attempted_total",
			Help:      "Reconnect attempts carrying a token.",
		}),
		ReconnectSuccessful: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "reconnect_successful_total",
			Help:      "Reconnects that reclaimed an existing session.",
		}),
		ReconnectFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "reconnect_failed_total",
			Help:      "Reconnects refused for any reason.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "euchre",
			Name:      "sessions_active",
			Help:      "Sessions currently tracked by the store.",
		}),
		SessionsPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "euchre",
			Name:      "sessions_peak",
			Help:      "High-water mark of tracked sessions since boot.",
		}),
		GamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "games_started_total",
			Help:      "Games created from a started lobby.",
		}),
		GamesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "games_completed_total",
			Help:      "Games that reached a winner by play.",
		}),
		GamesForfeited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "games_forfeited_total",
			Help:      "Games completed by reconnect forfeit.",
		}),
		BroadcastEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "euchre",
			Name:      "broadcast_events_total",
			Help:      "Events delivered to realtime sinks.",
		}),
	}
	reg.MustRegister(
		m.CommandsTotal, m.CommandsAccepted, m.CommandsRejected, m.CommandLatency,
		m.ReconnectAttempted, m.ReconnectSuccessful, m.ReconnectFailed,
		m.SessionsActive, m.SessionsPeak,
		m.GamesStarted, m.GamesCompleted, m.GamesForfeited,
		m.BroadcastEvents,
	)
	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSessions sets the active gauge and ratchets the peak.
func (m *Metrics) ObserveSessions(n int) {
	m.SessionsActive.Set(float64(n))
	m.peakMu.Lock()
	defer m.peakMu.Unlock()
	if int64(n) > m.peak {
		m.peak = int64(n)
		m.SessionsPeak.Set(float64(n))
	}
}
