// Package metrics registers the Prometheus series exported by both
// binaries and exposes them on a single registry served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the registry both /metrics handlers scrape from. Kept
// separate from prometheus.DefaultRegisterer so tests can register a
// throwaway instance of these vectors without colliding with package-level
// state across test binaries.
var Registry = prometheus.NewRegistry()

var (
	// DeliverLocal counts envelopes delivered to a locally-attached session.
	DeliverLocal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcmesh_deliver_local_total",
			Help: "Envelopes delivered to a session on this node",
		},
		[]string{"node"},
	)

	// DeliverRelay counts envelopes delivered after a two-hop relay.
	DeliverRelay = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcmesh_deliver_relay_total",
			Help: "Envelopes delivered on this node after arriving via relay",
		},
		[]string{"node"},
	)

	// DropBufferFull counts sink overflows that fell back to the KV buffer.
	DropBufferFull = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcmesh_drop_buffer_full_total",
			Help: "Envelopes that overflowed a session sink and were buffered instead",
		},
		[]string{"node"},
	)

	// PoisonRecords counts malformed relay records skipped rather than retried.
	PoisonRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcmesh_poison_records_total",
			Help: "Relay records that failed to deserialize and were skipped",
		},
		[]string{"node"},
	)

	// ActiveSessions gauges the current local session count.
	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcmesh_active_sessions",
			Help: "Number of sessions currently attached to this node",
		},
		[]string{"node"},
	)

	// RingVersion gauges the last installed DistributionVersion.
	RingVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcmesh_ring_version",
			Help: "Currently installed ring DistributionVersion",
		},
		[]string{"node"},
	)

	// ScaleDecisions counts scaling-engine decisions by action.
	ScaleDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtcmesh_scale_decisions_total",
			Help: "Scaling engine decisions by action",
		},
		[]string{"action"},
	)

	// NodeWeight gauges the last computed weight per node.
	NodeWeight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcmesh_node_weight",
			Help: "Current placement weight assigned to a node",
		},
		[]string{"node"},
	)

	// DrainRemaining gauges sessions left to close during a drain.
	DrainRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rtcmesh_drain_remaining_sessions",
			Help: "Sessions remaining to be closed on a draining node",
		},
		[]string{"node"},
	)
)

func init() {
	Registry.MustRegister(
		DeliverLocal,
		DeliverRelay,
		DropBufferFull,
		PoisonRecords,
		ActiveSessions,
		RingVersion,
		ScaleDecisions,
		NodeWeight,
		DrainRemaining,
	)
}
