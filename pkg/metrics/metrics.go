package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sandbox metrics
	SandboxesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrun_sandboxes_active",
			Help: "Number of connected sandboxes by type",
		},
		[]string{"sandbox_type"},
	)

	PoolLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentrun_pool_level",
			Help: "Number of warm sandboxes waiting in the pool by type",
		},
		[]string{"sandbox_type"},
	)

	PortsClaimed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrun_ports_claimed",
			Help: "Number of host ports currently claimed by the arbiter",
		},
	)

	ConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_connects_total",
			Help: "Total sandbox connects by type and source (pool or cold)",
		},
		[]string{"sandbox_type", "source"},
	)

	CreateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_create_failures_total",
			Help: "Total failed sandbox creations by backend",
		},
		[]string{"backend"},
	)

	CreateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrun_sandbox_create_duration_seconds",
			Help:    "Time from create call to ready sandbox in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrun_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Tool metrics
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_tool_calls_total",
			Help: "Total in-container tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	ToolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentrun_tool_call_duration_seconds",
			Help:    "Tool call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Deployment store metrics
	DeploymentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrun_deployments_total",
			Help: "Number of deployment records in the store",
		},
	)

	StoreBackupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrun_store_backups_total",
			Help: "Total deployment store backups written",
		},
	)

	StoreDroppedRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrun_store_dropped_records_total",
			Help: "Total corrupt deployment records dropped during load",
		},
	)

	// Training metrics
	TrainingInstancesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentrun_training_instances_active",
			Help: "Number of live training environment instances",
		},
	)

	TrainingStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentrun_training_steps_total",
			Help: "Total training environment steps by environment",
		},
		[]string{"env"},
	)

	TrainingReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrun_training_reaped_total",
			Help: "Total idle training instances reaped",
		},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentrun_reconcile_cycles_total",
			Help: "Total pool reconcile cycles",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentrun_reconcile_duration_seconds",
			Help:    "Pool reconcile cycle duration",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SandboxesActive)
	prometheus.MustRegister(PoolLevel)
	prometheus.MustRegister(PortsClaimed)
	prometheus.MustRegister(ConnectsTotal)
	prometheus.MustRegister(CreateFailures)
	prometheus.MustRegister(CreateDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ToolCallsTotal)
	prometheus.MustRegister(ToolCallDuration)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(StoreBackupsTotal)
	prometheus.MustRegister(StoreDroppedRecords)
	prometheus.MustRegister(TrainingInstancesActive)
	prometheus.MustRegister(TrainingStepsTotal)
	prometheus.MustRegister(TrainingReapedTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
