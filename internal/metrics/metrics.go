package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms for the verification core, partitioned by chain
// where a chain is in play and by endpoint for gateway-level signals.

var (
	// Gateway
	GatewayAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "gateway",
		Name:      "attempts_total",
		Help:      "Total endpoint call attempts, including retries",
	}, []string{"endpoint"})

	GatewayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "gateway",
		Name:      "failures_total",
		Help:      "Total calls that exhausted their retry budget",
	}, []string{"endpoint"})

	GatewayCircuitOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "gateway",
		Name:      "circuit_opens_total",
		Help:      "Total circuit breaker open transitions",
	}, []string{"endpoint"})

	GatewayCircuitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "gateway",
		Name:      "circuit_rejections_total",
		Help:      "Total calls rejected fast by an open circuit",
	}, []string{"endpoint"})

	GatewayCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pledgewatch",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "End-to-end endpoint call duration, including retries and backoff",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	// Fetchers
	ExplorerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "explorer",
		Name:      "requests_total",
		Help:      "Total REST explorer requests by chain and outcome",
	}, []string{"chain", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the client-side rate limiter",
	}, []string{"chain"})

	// Token metadata cache
	TokenMetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "tokens",
		Name:      "metadata_lookups_total",
		Help:      "Total token metadata lookups by cache outcome",
	}, []string{"chain", "result"})

	// Ledger
	PledgesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "ledger",
		Name:      "pledges_created_total",
		Help:      "Total new pledges persisted",
	})

	PledgesDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "ledger",
		Name:      "pledges_deduped_total",
		Help:      "Total pledge submissions resolved to an existing record",
	})

	// Poller
	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "poller",
		Name:      "sweep_runs_total",
		Help:      "Total orchestrator sweep runs",
	})

	SweepErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "poller",
		Name:      "errors_total",
		Help:      "Total isolated per-item sweep failures",
	}, []string{"stage"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pledgewatch",
		Subsystem: "poller",
		Name:      "sweep_duration_seconds",
		Help:      "Full sweep duration",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts dispatched per channel and level",
	}, []string{"channel", "level"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgewatch",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "level"})
)
