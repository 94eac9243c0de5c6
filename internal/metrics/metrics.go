// Package metrics exposes Prometheus metrics for sessions and commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chrisreddington/ssh-mcp/internal/sshexec"
	"github.com/chrisreddington/ssh-mcp/internal/sshsession"
)

const namespace = "ssh_mcp"

// Command modes used as the "mode" label.
const (
	ModeOnce    = "once"
	ModeSession = "session"
)

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionEvents   *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with Go runtime and
// process collectors, on a fresh registry. activeSessions reports the live
// session count at scrape time.
func New(activeSessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands run, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Wall-clock time of completed commands.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionEvents,
		m.commands,
		m.commandDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live persistent sessions.",
		}, func() float64 { return float64(activeSessions()) }),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionListener counts session lifecycle events.
func (m *Metrics) SessionListener() sshsession.EventListener {
	return func(ev sshsession.Event) {
		m.sessionEvents.WithLabelValues(string(ev.Type)).Inc()
	}
}

// ObserveCommand records one command outcome. The duration histogram only
// sees commands that completed.
func (m *Metrics) ObserveCommand(mode string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(sshexec.KindOf(err))
	} else {
		m.commandDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
	m.commands.WithLabelValues(mode, outcome).Inc()
}
