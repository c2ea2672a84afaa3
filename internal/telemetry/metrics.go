package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the prometheus collectors shared across the engine and its
// components. Grounded on runZeroInc-conniver's pkg/exporter/exporter.go
// (a Collect-on-demand prometheus wrapper around a polled data source),
// adapted here to counters/gauges updated inline by component logic instead
// of a background poll, since the engine's own tick already supplies the
// sampling cadence.
type Metrics struct {
	Registry *prometheus.Registry

	TickDuration  prometheus.Histogram
	MTP2Retransmit prometheus.Counter
	MTP2QueueDepth prometheus.Gauge
	MTP3Relayed    prometheus.Counter
	ISUPCallState  *prometheus.CounterVec
	TCAPCounters   *prometheus.CounterVec
	Q931Counters   *prometheus.CounterVec
}

// NewMetrics constructs and registers the collector set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ss7core",
			Name:      "engine_tick_duration_seconds",
			Help:      "Duration of one engine tick iteration across all components.",
			Buckets:   prometheus.DefBuckets,
		}),
		MTP2Retransmit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ss7core",
			Subsystem: "mtp2",
			Name:      "retransmits_total",
			Help:      "Total MSUs retransmitted across all MTP2 links.",
		}),
		MTP2QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ss7core",
			Subsystem: "mtp2",
			Name:      "retransmit_queue_depth",
			Help:      "Current size of the most recently observed MTP2 retransmission queue.",
		}),
		MTP3Relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ss7core",
			Subsystem: "mtp3",
			Name:      "msus_relayed_total",
			Help:      "Total MSUs dispatched upward to a Layer3User across all routed destinations.",
		}),
		ISUPCallState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ss7core",
			Subsystem: "isup",
			Name:      "call_transitions_total",
			Help:      "ISUP call state machine transitions by from/to state.",
		}, []string{"from", "to"}),
		TCAPCounters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ss7core",
			Subsystem: "tcap",
			Name:      "messages_total",
			Help:      "TCAP message counters by dialect and kind (incoming/outgoing/discarded/normal/abnormal).",
		}, []string{"dialect", "kind"}),
		Q931Counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ss7core",
			Subsystem: "q931",
			Name:      "messages_total",
			Help:      "Q.931 messages sent by message type and direction.",
		}, []string{"type", "direction"}),
	}
	reg.MustRegister(m.TickDuration, m.MTP2Retransmit, m.MTP2QueueDepth, m.MTP3Relayed, m.ISUPCallState, m.TCAPCounters, m.Q931Counters)
	return m
}
