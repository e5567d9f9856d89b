// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes folonet's Prometheus counters and gauges,
// grounded on the teacher's internal/ebpf/metrics exporter: one struct
// holding every metric, a constructor that registers descriptions, and
// Describe/Collect methods so the struct itself satisfies
// prometheus.Collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every metric folonet's datapath and control tiers report.
type Metrics struct {
	PacketsProcessed prometheus.Counter
	PacketsDropped   prometheus.Counter
	PacketsPassed    prometheus.Counter
	PacketsAborted   prometheus.Counter

	ActiveFlows prometheus.Gauge

	ColdStartsIssued  prometheus.Counter
	ColdStartsFailed  prometheus.Counter
	BackendsReclaimed prometheus.Counter
	ActiveBackends    prometheus.Gauge

	PacketEventsPublished prometheus.Counter
	PacketEventsDropped   prometheus.Counter
	ColdStartsDropped     prometheus.Counter
}

// NewMetrics constructs every metric with its name and help text.
func NewMetrics() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packets_processed_total",
			Help: "Total number of frames the datapath has parsed and dispatched.",
		}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packets_dropped_total",
			Help: "Total number of frames dropped (cold-start miss, pool exhaustion, or map-full).",
		}),
		PacketsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packets_passed_total",
			Help: "Total number of frames passed to the host stack untouched.",
		}),
		PacketsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packets_aborted_total",
			Help: "Total number of frames aborted due to an irrecoverable Shared Map failure.",
		}),

		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folonet_active_flows",
			Help: "Number of live Flow Table entry pairs.",
		}),

		ColdStartsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_cold_starts_issued_total",
			Help: "Total number of StartServer calls issued by the Cold-Start Controller.",
		}),
		ColdStartsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_cold_starts_failed_total",
			Help: "Total number of StartServer calls that returned active=false or an RPC error.",
		}),
		BackendsReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_backends_reclaimed_total",
			Help: "Total number of backends torn down by the idle monitor.",
		}),
		ActiveBackends: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "folonet_active_backends",
			Help: "Number of currently provisioned backend bindings.",
		}),

		PacketEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packet_events_published_total",
			Help: "Total number of Notification records published to the Packet-Event Ring.",
		}),
		PacketEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_packet_events_dropped_total",
			Help: "Total number of Notification records dropped because the Packet-Event Ring was full.",
		}),
		ColdStartsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "folonet_cold_start_ring_dropped_total",
			Help: "Total number of Cold-Start Ring publishes dropped because the ring was full.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsProcessed, m.PacketsDropped, m.PacketsPassed, m.PacketsAborted,
		m.ActiveFlows,
		m.ColdStartsIssued, m.ColdStartsFailed, m.BackendsReclaimed, m.ActiveBackends,
		m.PacketEventsPublished, m.PacketEventsDropped, m.ColdStartsDropped,
	}
}
