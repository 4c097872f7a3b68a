package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for StableLedger.
type Metrics struct {
	// --- Core processing ---
	CoreInstructionsApplied  *prometheus.CounterVec
	CoreInstructionsRejected *prometheus.CounterVec
	CoreApplyDuration        *prometheus.HistogramVec
	CoreJournals             *prometheus.CounterVec
	CoreSequence             prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	SequenceGaps          *prometheus.CounterVec
	SequenceOutOfOrder    *prometheus.CounterVec

	// --- Positions & supply ---
	CollateralLocked     prometheus.Gauge
	StablecoinSupply     prometheus.Gauge
	TreasuryBalance      prometheus.Gauge
	MintedTotal          prometheus.Counter
	BurnedTotal          prometheus.Counter
	LiquidationsTotal    prometheus.Counter
	LiquidatedDebt       prometheus.Counter
	CollateralSeized     prometheus.Counter
	LiquidationSeizeCaps prometheus.Counter

	// --- Persistence ---
	PersistBatchDur        prometheus.Histogram
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests   *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	QueryCacheHits  *prometheus.CounterVec
	QueryCacheMiss  *prometheus.CounterVec
	IngestRejected  *prometheus.CounterVec
	IngestPublished *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the service and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		// Core processing
		CoreInstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_instructions_applied_total",
			Help: "Instructions successfully applied by core",
		}, []string{"instruction"}),

		CoreInstructionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_instructions_rejected_total",
			Help: "Instructions rejected (duplicate, ordering, validation)",
		}, []string{"instruction", "reason"}),

		CoreApplyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_core_apply_duration_seconds",
			Help:    "Time to apply a single instruction in core",
			Buckets: latencyBuckets,
		}, []string{"instruction"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_core_sequence",
			Help: "Next global sequence number",
		}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stable_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		// Idempotency & ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"instruction", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		SequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_sequence_gap_total",
			Help: "Submitter sequence gaps (tolerated)",
		}, []string{"partition_kind"}),

		SequenceOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_sequence_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition_kind"}),

		// Positions & supply
		CollateralLocked: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_collateral_locked",
			Help: "Collateral held in position vaults",
		}),

		StablecoinSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_stablecoin_supply",
			Help: "Stablecoin in circulation",
		}),

		TreasuryBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_treasury_balance",
			Help: "Accumulated mint fees",
		}),

		MintedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_minted_total",
			Help: "Stablecoin debt issued",
		}),

		BurnedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_burned_total",
			Help: "Stablecoin debt repaid by owners",
		}),

		LiquidationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidations_total",
			Help: "Partial liquidations applied",
		}),

		LiquidatedDebt: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidated_debt_total",
			Help: "Debt retired by liquidation",
		}),

		CollateralSeized: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_collateral_seized_total",
			Help: "Collateral paid to liquidators",
		}),

		LiquidationSeizeCaps: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_liquidation_seize_capped_total",
			Help: "Liquidations whose seizure was capped at remaining collateral",
		}),

		// Persistence
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projections
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stable_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "stable_replay_events_total",
			Help: "Envelopes replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "stable_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stable_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_query_cache_hits_total",
			Help: "Query cache hits",
		}, []string{"kind"}),

		QueryCacheMiss: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_query_cache_misses_total",
			Help: "Query cache misses",
		}, []string{"kind"}),

		IngestRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_ingest_rejected_total",
			Help: "Inbound messages dropped before reaching core",
		}, []string{"source", "reason"}),

		IngestPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stable_ingest_published_total",
			Help: "Outbound receipts published",
		}, []string{"instruction"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
