package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResetsHandled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwtopo_bus_resets_total",
		Help: "Total number of bus resets handled.",
	})

	BuildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwtopo_topology_build_failures_total",
		Help: "Total number of self-ID snapshots rejected, labelled by reason.",
	}, []string{"reason"})

	ForcedResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwtopo_forced_resets_total",
		Help: "Total number of bus resets requested after a failed rebuild.",
	})

	SkippedGenerations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwtopo_skipped_generations_total",
		Help: "Total number of resets whose generation did not follow the previous one.",
	})

	PortMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwtopo_port_mismatches_total",
		Help: "Total number of places where consecutive topologies disagreed on port numbering.",
	})

	NodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fwtopo_nodes",
		Help: "Number of nodes in the retained topology.",
	})

	TopologyStale = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fwtopo_topology_stale",
		Help: "1 while the retained topology predates the latest reset.",
	})

	NodeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwtopo_node_events_total",
		Help: "Total number of node lifecycle events, labelled by kind.",
	}, []string{"kind"})

	RebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fwtopo_rebuild_duration_ms",
		Help:    "Time spent decoding, building and reconciling one reset, in milliseconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwtopo_subscriber_deliveries_total",
		Help: "Total number of batch deliveries, labelled by subscriber and status.",
	}, []string{"subscriber", "status"})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fwtopo_dispatch_queue_utilization_ratio",
		Help: "Fill ratio of the fullest subscriber queue (0–1).",
	})
)
