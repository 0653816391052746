package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mptcpd"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all daemon metrics.
type Registry struct {
	// Kernel events
	EventsTotal   *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec

	// Commands issued to the kernel
	CommandsTotal *prometheus.CounterVec

	// Plugin dispatch
	PluginsRegistered prometheus.Gauge
	DispatchEntries   prometheus.Gauge
	DispatchMisses    *prometheus.CounterVec
	Callbacks         *prometheus.CounterVec

	// Kernel family state
	FamilyPresent     prometheus.Gauge
	FamilyTransitions *prometheus.CounterVec

	// Network monitor
	Interfaces prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewRegistry creates the metric set on reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.EventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "MPTCP events received from the kernel",
	}, []string{"event"})

	r.EventsDropped = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "MPTCP events discarded before dispatch",
	}, []string{"event", "reason"})

	r.CommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Path management commands by outcome",
	}, []string{"command", "outcome"})

	r.PluginsRegistered = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "plugins_registered",
		Help:      "Registered path manager operation tables",
	})

	r.DispatchEntries = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_entries",
		Help:      "Connections currently bound to a path manager",
	})

	r.DispatchMisses = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_misses_total",
		Help:      "Lookups that found no path manager",
	}, []string{"by"})

	r.Callbacks = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plugin_callbacks_total",
		Help:      "Plugin callbacks invoked",
	}, []string{"plugin", "callback"})

	r.FamilyPresent = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "family_present",
		Help:      "Whether the kernel MPTCP generic netlink family is available",
	})

	r.FamilyTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "family_transitions_total",
		Help:      "Kernel MPTCP family appear and vanish notifications",
	}, []string{"state"})

	r.Interfaces = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interfaces",
		Help:      "Network interfaces tracked by the monitor",
	})

	return r
}

// RecordCommand counts a command result. A nil err is "ok".
func (r *Registry) RecordCommand(command string, err error) {
	r.CommandsTotal.WithLabelValues(command, outcome(err)).Inc()
}

// RecordDrop counts an event that was not dispatched.
func (r *Registry) RecordDrop(event, reason string) {
	r.EventsDropped.WithLabelValues(event, reason).Inc()
}

// SetFamilyPresent records a family transition.
func (r *Registry) SetFamilyPresent(present bool) {
	if present {
		r.FamilyPresent.Set(1)
		r.FamilyTransitions.WithLabelValues("appeared").Inc()
		return
	}
	r.FamilyPresent.Set(0)
	r.FamilyTransitions.WithLabelValues("vanished").Inc()
}

// Outcome classifies an error for the outcome label. Wrapped errors that
// implement Outcome() string choose their own label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if o, ok := err.(interface{ Outcome() string }); ok {
		return o.Outcome()
	}
	return "error"
}
