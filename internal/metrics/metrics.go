// Package metrics exposes a Prometheus registry and a few structured-log
// counters for the state entity's own operations (SPEC_FULL.md's ambient
// component table: "Counters/gauges for deposits, transfers, swaps, watcher
// actions"). This is observability plumbing the spec's data-model and
// protocol sections never mention; it is carried regardless of any
// Non-goal the way request logging and config loading are.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry bundles the state entity's counters with the registry that backs
// the /metrics HTTP endpoint. The protocol drivers do not update these
// counters; ErrorsLogged is incremented by LogError.
type Registry struct {
	reg *prometheus.Registry
	log *logrus.Logger

	DepositsConfirmed   prometheus.Counter
	TransfersFinalized  prometheus.Counter
	BatchesFinalized    prometheus.Counter
	BatchesPunished     prometheus.Counter
	WithdrawalsFinal    prometheus.Counter
	SwapsFormed         prometheus.Counter
	SwapsRedeemed       prometheus.Counter
	WatcherBroadcasts   prometheus.Counter
	WatcherClosed       prometheus.Counter
	WatcherCompromised  prometheus.Counter
	OpenStateChains     prometheus.Gauge
	ErrorsLogged        prometheus.Counter
}

// New constructs a Registry. log receives the lines LogError and LogEvent
// write; passing nil disables that logging without disabling the counters
// themselves.
func New(log *logrus.Logger) *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{reg: reg, log: log}

	m.DepositsConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_deposits_confirmed_total",
		Help: "Deposits that reached the funded, open state.",
	})
	m.TransfersFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_transfers_finalized_total",
		Help: "Single-statechain ownership transfers finalized.",
	})
	m.BatchesFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_batches_finalized_total",
		Help: "Atomic transfer batches that finalized all-or-nothing.",
	})
	m.BatchesPunished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_batches_punished_total",
		Help: "Atomic transfer batches that failed and triggered punishment locking.",
	})
	m.WithdrawalsFinal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_withdrawals_total",
		Help: "Statechains withdrawn to an on-chain address.",
	})
	m.SwapsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_swaps_formed_total",
		Help: "Conductor swap rounds formed by a matching tick.",
	})
	m.SwapsRedeemed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_swaps_redeemed_total",
		Help: "Blinded spend tokens successfully redeemed in phase 3.",
	})
	m.WatcherBroadcasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_watcher_broadcasts_total",
		Help: "Backup transactions submitted by the watch loop.",
	})
	m.WatcherClosed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_watcher_closed_total",
		Help: "Statechains the watch loop closed after observing their backup tx confirm.",
	})
	m.WatcherCompromised = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_watcher_compromised_total",
		Help: "Backup transactions the watch loop flagged compromised (missing inputs).",
	})
	m.OpenStateChains = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stateentity_open_statechains",
		Help: "Statechains currently open (non-zero amount).",
	})
	m.ErrorsLogged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stateentity_errors_total",
		Help: "Errors surfaced by any driver at ErrorLevel or above.",
	})

	reg.MustRegister(
		m.DepositsConfirmed,
		m.TransfersFinalized,
		m.BatchesFinalized,
		m.BatchesPunished,
		m.WithdrawalsFinal,
		m.SwapsFormed,
		m.SwapsRedeemed,
		m.WatcherBroadcasts,
		m.WatcherClosed,
		m.WatcherCompromised,
		m.OpenStateChains,
		m.ErrorsLogged,
	)
	return m
}

// Handler returns the http.Handler to mount at /metrics.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// LogError increments ErrorsLogged and writes a structured log line, so
// every error counted here also leaves a trace.
func (m *Registry) LogError(event string, err error) {
	m.ErrorsLogged.Inc()
	if m.log != nil {
		m.log.WithError(err).WithField("event", event).Error("stateentity error")
	}
}

// LogEvent logs an InfoLevel operator-visible event without touching the
// error counter (e.g. "swap round formed", "statechain closed").
func (m *Registry) LogEvent(event string, fields logrus.Fields) {
	if m.log == nil {
		return
	}
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["event"] = event
	m.log.WithFields(fields).Info("stateentity event")
}
