// Package metrics holds the process-wide prometheus registry horizond's
// internal components publish counters and histograms to. No HTTP exporter
// lives in the core; cmd/horizond mounts promhttp so the numbers are
// reachable, but internal/eventbus and internal/gorc never import net/http
// themselves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "horizon_events_emitted_total",
		Help: "Total number of successful Emit calls.",
	})

	EventsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "horizon_events_handled_total",
		Help: "Total number of handler invocations that returned without error.",
	}, []string{"kind"})

	HandlerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "horizon_handler_failures_total",
		Help: "Total number of handler invocations that returned an error, panicked, or timed out.",
	}, []string{"kind", "reason"})

	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "horizon_dispatch_duration_seconds",
		Help:    "Wall-clock time to fan out and await one emission's handlers.",
		Buckets: prometheus.DefBuckets,
	})

	PluginFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "horizon_plugin_faults_total",
		Help: "Total number of plugin faults: lifecycle callbacks or handlers that panicked or failed (driving the plugin to Draining), and plugins loaded despite an ABI tag mismatch under the warn policy.",
	}, []string{"plugin"})

	ZoneEntries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "horizon_gorc_zone_entries_total",
		Help: "Total number of zone_entered transitions produced by the zone index.",
	})

	ZoneExits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "horizon_gorc_zone_exits_total",
		Help: "Total number of zone_exited transitions produced by the zone index.",
	})

	UpdatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "horizon_gorc_updates_dropped_total",
		Help: "Total number of replication updates dropped by bandwidth ceilings or zero-subscriber channels.",
	}, []string{"reason"})

	InboundDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "horizon_router_inbound_dropped_total",
		Help: "Total number of inbound envelopes rejected by the router.",
	}, []string{"reason"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "horizon_gorc_tick_duration_seconds",
		Help:    "Wall-clock time to run one replication scheduler tick.",
		Buckets: prometheus.DefBuckets,
	})
)

// Registry is the collector registry every metric above is registered to.
// cmd/horizond hands this to promhttp.HandlerFor for the optional /metrics
// endpoint.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		EventsEmitted,
		EventsHandled,
		HandlerFailures,
		DispatchDuration,
		PluginFaults,
		ZoneEntries,
		ZoneExits,
		UpdatesDropped,
		InboundDropped,
		TickDuration,
	)
}
