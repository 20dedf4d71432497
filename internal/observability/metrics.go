package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the portfolio service.
type Metrics struct {
	// --- Batch processing ---
	BatchesProcessed     *prometheus.CounterVec
	BatchFailures        *prometheus.CounterVec
	BatchDuration        *prometheus.HistogramVec
	LiabilitiesProcessed *prometheus.CounterVec
	IdlePasses           prometheus.Counter
	Watermark            *prometheus.GaugeVec

	// --- Pricing ---
	PriceLookups        *prometheus.CounterVec
	PriceLookupDuration prometheus.Histogram

	// --- Merge / persistence ---
	DeltasMerged  *prometheus.CounterVec
	MergeDuration prometheus.Histogram
	MergeErrors   prometheus.Counter

	// --- Outbound ---
	PublishDrops  prometheus.Counter
	PublishErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	batchBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
	lookupBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		BatchesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_batches_processed_total",
			Help: "Batches merged successfully, per portfolio currency",
		}, []string{"currency"}),

		BatchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_batch_failures_total",
			Help: "Batches aborted (no_market, no_price_data, transfer, store)",
		}, []string{"currency", "reason"}),

		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portfolio_batch_duration_seconds",
			Help:    "End-to-end duration of one per-currency batch",
			Buckets: batchBuckets,
		}, []string{"currency"}),

		LiabilitiesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_liabilities_processed_total",
			Help: "Liability rows folded into portfolio balances",
		}, []string{"currency"}),

		IdlePasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_idle_passes_total",
			Help: "Passes that found zero new liabilities across all currencies",
		}),

		Watermark: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "portfolio_watermark",
			Help: "Highest liability id folded in, per portfolio currency",
		}, []string{"currency"}),

		PriceLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_price_lookups_total",
			Help: "Historical price resolutions (ok, no_market, no_price_data, error)",
		}, []string{"status"}),

		PriceLookupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_price_lookup_duration_seconds",
			Help:    "Nearest-trade lookup latency",
			Buckets: lookupBuckets,
		}),

		DeltasMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_deltas_merged_total",
			Help: "Portfolio deltas upserted into the balance store",
		}, []string{"currency"}),

		MergeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "portfolio_merge_duration_seconds",
			Help:    "Additive upsert transaction duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		MergeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_merge_errors_total",
			Help: "Failed upsert transactions",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_publish_drops_total",
			Help: "Batch summaries dropped due to full publish channel",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_publish_errors_total",
			Help: "Batch summaries that failed to publish to JetStream",
		}),
	}
}
