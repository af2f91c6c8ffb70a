// Package metrics owns the Prometheus collectors of the bot and the optional
// HTTP endpoint that exposes them (plus pprof).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fsubbot"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	deliveries      *prometheus.CounterVec
	rateLimitWaits  prometheus.Counter
	broadcastActive prometheus.Gauge
	broadcastRuns   *prometheus.CounterVec

	gateChecks         *prometheus.CounterVec
	gatedChats         prometheus.Gauge
	resolutionFailures prometheus.Counter

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	panics          *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "deliveries_total",
			Help: "Broadcast delivery attempts by outcome (sent, failed, skipped).",
		}, []string{"outcome"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "rate_limit_waits_total",
			Help: "Platform-mandated waits during broadcasts.",
		}),
		broadcastActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "running",
			Help: "1 while a broadcast run is active.",
		}),
		broadcastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "runs_total",
			Help: "Finished broadcast runs by final status.",
		}, []string{"status"}),
		gateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "checks_total",
			Help: "Subscription gate decisions (open, blocked, exempt).",
		}, []string{"result"}),
		gatedChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gate", Name: "chats",
			Help: "Gated chats in the current cache snapshot.",
		}),
		resolutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "gate", Name: "resolution_failures_total",
			Help: "Gated chats dropped because they could not be resolved.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "commands_total",
			Help: "Handled commands and callbacks by status.",
		}, []string{"route", "status"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "router", Name: "command_duration_seconds",
			Help:    "Handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "panics_total",
			Help: "Recovered panics by goroutine or route.",
		}, []string{"where"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveries, m.rateLimitWaits, m.broadcastActive, m.broadcastRuns,
		m.gateChecks, m.gatedChats, m.resolutionFailures,
		m.commands, m.commandDuration, m.panics,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Delivery(outcome string) {
	if m != nil {
		m.deliveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RateLimitWait() {
	if m != nil {
		m.rateLimitWaits.Inc()
	}
}

func (m *Metrics) BroadcastRunning(on bool) {
	if m == nil {
		return
	}
	if on {
		m.broadcastActive.Set(1)
		return
	}
	m.broadcastActive.Set(0)
}

func (m *Metrics) BroadcastFinished(status string) {
	if m != nil {
		m.broadcastRuns.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) GateCheck(result string) {
	if m != nil {
		m.gateChecks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) GatedChats(n int) {
	if m != nil {
		m.gatedChats.Set(float64(n))
	}
}

func (m *Metrics) ResolutionFailure() {
	if m != nil {
		m.resolutionFailures.Inc()
	}
}

func (m *Metrics) Command(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(route, status).Inc()
	m.commandDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) Panic(where string) {
	if m != nil {
		m.panics.WithLabelValues(where).Inc()
	}
}
