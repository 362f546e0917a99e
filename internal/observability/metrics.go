package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpCore.
type Metrics struct {
	// --- Order intake ---
	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec

	// --- Settlement ---
	Settlements        *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	PendingRequests    prometheus.Gauge
	OpenPositions      prometheus.Gauge
	OpenInterest       *prometheus.GaugeVec
	PoolBalance        prometheus.Gauge

	// --- Oracle evidence ---
	EvidenceReceived *prometheus.CounterVec
	EvidenceRejected *prometheus.CounterVec
	IngestLatency    *prometheus.HistogramVec

	// --- Pipeline & backpressure ---
	ChannelSize  *prometheus.GaugeVec
	PublishDrops prometheus.Counter

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OrdersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_submitted_total",
			Help: "Orders accepted at intake",
		}, []string{"kind"}),

		OrdersRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_orders_rejected_total",
			Help: "Orders rejected at intake validation",
		}, []string{"reason"}),

		Settlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_settlements_total",
			Help: "Settlement callbacks by kind and outcome",
		}, []string{"kind", "outcome"}),

		SettlementDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_settlement_duration_seconds",
			Help:    "Time to run one settlement callback",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		PendingRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pending_price_requests",
			Help: "Open price requests awaiting evidence",
		}),

		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_open_positions",
			Help: "Currently open positions",
		}),

		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_quote",
			Help: "Aggregate leveraged notional (quote units)",
		}, []string{"pair", "side"}),

		PoolBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perp_pool_balance_quote",
			Help: "Counterparty pool balance (quote units)",
		}),

		EvidenceReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_evidence_received_total",
			Help: "Price evidence messages received",
		}, []string{"feed"}),

		EvidenceRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_evidence_rejected_total",
			Help: "Price evidence rejected (deviation, feed mismatch, parse)",
		}, []string{"reason"}),

		IngestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_ingest_latency_seconds",
			Help:    "NATS receive to settlement complete",
			Buckets: latencyBuckets,
		}, []string{"subject"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Settlement records dropped on a full publish channel",
		}),

		PersistRowsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_rows_written_total",
			Help: "Settlement rows committed to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Postgres write errors",
		}, []string{"op"}),
	}
}
