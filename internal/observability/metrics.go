package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// --- Engine operations ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	// --- Oracle & markets ---
	LastNav          *prometheus.GaugeVec
	NavPosted        *prometheus.CounterVec
	BreakerTrips     *prometheus.CounterVec
	MarketPaused     *prometheus.GaugeVec
	PendingTimelocks *prometheus.GaugeVec

	// --- Deals & liquidation ---
	DealsOpened          *prometheus.CounterVec
	DealsClosed          *prometheus.CounterVec
	LiquidationsFull     *prometheus.CounterVec
	LiquidationsPartial  *prometheus.CounterVec
	LiquidationBounty    *prometheus.CounterVec
	FeesCollected        *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_ops_rejected_total",
			Help: "Operations rejected (validation, auth, risk)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_op_duration_seconds",
			Help:    "Time to apply a single operation in the engine",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		LastNav: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_last_nav",
			Help: "Last validated NAV per market (price decimals fixed-point)",
		}, []string{"market_id"}),

		NavPosted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_nav_posted_total",
			Help: "Validated NAV updates stored",
		}, []string{"market_id"}),

		BreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_breaker_trips_total",
			Help: "Circuit breaker activations from rejected NAV jumps",
		}, []string{"market_id"}),

		MarketPaused: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_market_paused",
			Help: "1 when the market is paused",
		}, []string{"market_id"}),

		PendingTimelocks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_pending_timelocks",
			Help: "1 when a timelocked parameter change is pending",
		}, []string{"market_id"}),

		DealsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_deals_opened_total",
			Help: "Deals opened",
		}, []string{"market_id"}),

		DealsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_deals_closed_total",
			Help: "Deals settled and closed",
		}, []string{"market_id"}),

		LiquidationsFull: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_liquidations_full_total",
			Help: "Full liquidations (depleted outcome pauses the market)",
		}, []string{"market_id", "outcome"}),

		LiquidationsPartial: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_liquidations_partial_total",
			Help: "Partial liquidations to initial margin",
		}, []string{"market_id"}),

		LiquidationBounty: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_liquidation_bounty_total",
			Help: "Total bounty paid to liquidators (quote units)",
		}, []string{"market_id"}),

		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_fees_collected_total",
			Help: "Open fees collected into the market fee vault (quote units)",
		}, []string{"market_id"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stack_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stack_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stack_persist_backpressure_total",
			Help: "Times the writer blocked on the persist channel",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stack_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stack_persist_journals_written_total",
			Help: "Transfer journal rows written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stack_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stack_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "stack_persist_retry_total",
			Help: "Persistence retries",
		}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stack_http_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stack_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
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
