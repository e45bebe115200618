// Package metrics exposes the kernel's Prometheus collectors for the
// message bus and storage layer (SPEC_FULL.md §4.8). The core registers
// collectors but never itself exposes an HTTP scrape endpoint — that is a
// collaborator concern (spec §1).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the kernel's named collectors behind a private
// prometheus.Registry so construction never panics on double-registration
// across multiple Kernel instances in the same process (as happens in
// tests).
type Registry struct {
	reg *prometheus.Registry

	MessagesRouted  *prometheus.CounterVec
	MessagesFailed  *prometheus.CounterVec
	MailboxDepth    *prometheus.GaugeVec
	StorageDuration *prometheus.HistogramVec
	PluginLoadTime  prometheus.Histogram
	PluginsLoaded   prometheus.Gauge
}

// New builds and registers a fresh set of collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MessagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_messages_routed_total",
			Help: "Number of bus messages successfully routed to at least one mailbox.",
		}, []string{"kind"}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_messages_failed_total",
			Help: "Number of bus messages that failed to route.",
		}, []string{"kind", "reason"}),
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bus_mailbox_depth",
			Help: "Current number of queued messages per plugin mailbox.",
		}, []string{"plugin"}),
		StorageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "storage_op_duration_seconds",
			Help: "Duration of storage operations.",
		}, []string{"op"}),
		PluginLoadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "plugin_load_duration_seconds",
			Help: "Duration of plugin sandbox instantiation.",
		}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "plugin_loaded_count",
			Help: "Current number of loaded plugin instances.",
		}),
	}

	reg.MustRegister(r.MessagesRouted, r.MessagesFailed, r.MailboxDepth, r.StorageDuration, r.PluginLoadTime, r.PluginsLoaded)
	return r
}

// Gatherer exposes the underlying registry for a collaborator to mount at
// its own /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
