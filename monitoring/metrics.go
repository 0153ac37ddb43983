// Package monitoring provides Prometheus metrics for the retrieve protocol:
// files and WAL bytes shipped, restarts, handoffs, and per-peer circuit
// breaker state.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilesShipped tracks the total number of data files sent to peers.
	FilesShipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_files_shipped_total",
		Help: "Total number of data files shipped to peers",
	}, []string{"vgId", "status"})

	// BytesShipped tracks raw bytes shipped to peers by stream kind.
	BytesShipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_bytes_shipped_total",
		Help: "Total bytes shipped to peers",
	}, []string{"vgId", "kind"}) // kind: file | rotated_wal | tail

	// WalRecordsShipped tracks WAL records shipped during live tailing.
	WalRecordsShipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_wal_records_shipped_total",
		Help: "Total WAL records shipped during live tailing",
	}, []string{"vgId"})

	// TailPasses tracks how long each live-WAL tail-loop pass takes to run.
	TailPasses = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retrievesync_tail_pass_duration_seconds",
		Help:    "Duration of one live-WAL tail-loop pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	// RunDuration tracks the wall-clock duration of a full retrieve run.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retrievesync_run_duration_seconds",
		Help:    "Duration of a retrieve run",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	}, []string{"vgId", "outcome"})

	// Restarts tracks the total number of supervisor-triggered restarts.
	Restarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_restarts_total",
		Help: "Total number of retrieve restarts triggered by the supervisor",
	}, []string{"vgId"})

	// Handoffs tracks the total number of successful CACHE handoffs.
	Handoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_handoffs_total",
		Help: "Total number of peers handed off to live forwarding",
	}, []string{"vgId"})

	// FlowControlNotices tracks flow-control notifications per vgId.
	FlowControlNotices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retrievesync_flow_control_notices_total",
		Help: "Total number of flow-control notifications sent",
	}, []string{"vgId"})

	// ActivePeers tracks the number of peers currently under retrieve.
	ActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retrievesync_active_peers",
		Help: "Number of peers currently under supervised retrieve",
	})

	// PeerBreakerState tracks per-peer circuit breaker state
	// (0=closed, 1=open, 2=half-open).
	PeerBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrievesync_peer_breaker_state",
		Help: "Per-peer restart circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"peerId"})

	// PeerRetries tracks the current retry counter per peer.
	PeerRetries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retrievesync_peer_retries",
		Help: "Current numOfRetrieves value per peer",
	}, []string{"peerId"})
)

// RecordFileShipped records one file offered to a peer, ack'd either way.
func RecordFileShipped(vgID string, sent bool) {
	status := "skipped"
	if sent {
		status = "sent"
	}
	FilesShipped.WithLabelValues(vgID, status).Inc()
}

// RecordBytesShipped adds n bytes to the shipped-bytes counter for kind.
func RecordBytesShipped(vgID, kind string, n int64) {
	if n <= 0 {
		return
	}
	BytesShipped.WithLabelValues(vgID, kind).Add(float64(n))
}

// RecordWalRecordShipped increments the WAL-record counter for vgID.
func RecordWalRecordShipped(vgID string) {
	WalRecordsShipped.WithLabelValues(vgID).Inc()
}

// RecordRunDuration observes how long a retrieve run took.
func RecordRunDuration(vgID, outcome string, seconds float64) {
	RunDuration.WithLabelValues(vgID, outcome).Observe(seconds)
}

// RecordRestart records a supervisor-triggered restart.
func RecordRestart(vgID string) {
	Restarts.WithLabelValues(vgID).Inc()
}

// RecordHandoff records a successful CACHE handoff.
func RecordHandoff(vgID string) {
	Handoffs.WithLabelValues(vgID).Inc()
}

// RecordFlowControlNotice records a flow-control notification for vgID.
// retries is not recorded; the per-peer retry gauge is set by
// UpdatePeerRetries.
func RecordFlowControlNotice(vgID string, retries uint32) {
	FlowControlNotices.WithLabelValues(vgID).Inc()
}

// UpdateActivePeers sets the active-peer gauge.
func UpdateActivePeers(n int) {
	ActivePeers.Set(float64(n))
}

// UpdatePeerBreakerState sets the per-peer breaker state gauge.
func UpdatePeerBreakerState(peerID string, state int) {
	PeerBreakerState.WithLabelValues(peerID).Set(float64(state))
}

// UpdatePeerRetries sets the per-peer retry counter gauge.
func UpdatePeerRetries(peerID string, retries uint32) {
	PeerRetries.WithLabelValues(peerID).Set(float64(retries))
}
