// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ignition_grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// PredictBatchSize is a histogram of the batch dimension of predict calls
	PredictBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ignition_predict_batch_size",
			Help:    "Histogram of batch sizes for predict calls.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// PredictLatencySeconds is a histogram of engine-only predict latency
	PredictLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ignition_predict_latency_seconds",
			Help:    "Histogram of predict latency (seconds) excluding gRPC overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PredictErrors counts failed predict calls by error code
	PredictErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignition_predict_errors_total",
			Help: "Number of failed predict calls by error code.",
		},
		[]string{"code"},
	)

	// KernelLatencySeconds is a histogram of single kernel dispatches
	KernelLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ignition_kernel_latency_seconds",
			Help:    "Histogram of kernel run time (seconds) by op type.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"op_type"},
	)

	// PoolBytes reports buffer pool occupancy
	PoolBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ignition_pool_bytes",
			Help: "Buffer pool bytes by state (in_use, retained, high_water).",
		},
		[]string{"state"},
	)

	// PoolLeaseFailures counts leases refused by the pool ceiling
	PoolLeaseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ignition_pool_lease_failures_total",
			Help: "Number of buffer leases refused because the pool ceiling was reached.",
		},
	)

	// PlanLoads counts plan loads by result
	PlanLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignition_plan_loads_total",
			Help: "Number of plan loads by result code.",
		},
		[]string{"code"},
	)

	// PredictCacheRequests counts prediction cache lookups
	PredictCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ignition_predict_cache_requests_total",
			Help: "Number of prediction cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ignition_health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordPredictBatch records the batch size of a predict call
func RecordPredictBatch(size int64) {
	PredictBatchSize.Observe(float64(size))
}

// RecordPredictLatency records the latency of a predict call
func RecordPredictLatency(seconds float64) {
	PredictLatencySeconds.Observe(seconds)
}

// RecordPredictError counts a failed predict call
func RecordPredictError(code string) {
	PredictErrors.WithLabelValues(code).Inc()
}

// RecordKernelLatency records one kernel dispatch
func RecordKernelLatency(opType string, seconds float64) {
	KernelLatencySeconds.WithLabelValues(opType).Observe(seconds)
}

// SetPoolBytes publishes the pool occupancy
func SetPoolBytes(inUse, retained, highWater int64) {
	PoolBytes.WithLabelValues("in_use").Set(float64(inUse))
	PoolBytes.WithLabelValues("retained").Set(float64(retained))
	PoolBytes.WithLabelValues("high_water").Set(float64(highWater))
}

// RecordLeaseFailure counts a refused lease
func RecordLeaseFailure() {
	PoolLeaseFailures.Inc()
}

// RecordPlanLoad counts a plan load
func RecordPlanLoad(code string) {
	PlanLoads.WithLabelValues(code).Inc()
}

// RecordCacheLookup counts a prediction cache lookup
func RecordCacheLookup(result string) {
	PredictCacheRequests.WithLabelValues(result).Inc()
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
