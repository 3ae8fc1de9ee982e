package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	HardwareTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foundry_hardware_total",
			Help: "Total number of hardware items by hardware type",
		},
		[]string{"hardware_type"},
	)

	WorkerTasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foundry_worker_tasks_total",
			Help: "Total number of worker tasks by state",
		},
		[]string{"state"},
	)

	AvailabilityWindowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foundry_availability_windows_total",
			Help: "Total number of availability windows",
		},
	)

	// Reconciler metrics
	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foundry_reconcile_cycles_total",
			Help: "Total number of completed reconcile cycles",
		},
	)

	ReconcileCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foundry_reconcile_cycle_duration_seconds",
			Help:    "Reconcile cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_task_results_total",
			Help: "Total number of task executions by worker type and outcome",
		},
		[]string{"worker_type", "outcome"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foundry_task_duration_seconds",
			Help:    "Worker task execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker_type"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foundry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(HardwareTotal)
	prometheus.MustRegister(WorkerTasksTotal)
	prometheus.MustRegister(AvailabilityWindowsTotal)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileCycleDuration)
	prometheus.MustRegister(TaskResultsTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
