package prometheus

import (
	"time"

	"pot-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Store operations
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec

	// Write protocol
	conflicts       *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	reconciles      *prometheus.CounterVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Activity writer
	queueDepth    *prometheus.GaugeVec
	droppedWrites *prometheus.CounterVec
	asyncWrites   *prometheus.CounterVec
	asyncLatency  *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations per backend, operation and status",
			},
			[]string{"backend", "operation", "status"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of ledger errors per backend, operation and error type",
			},
			[]string{"backend", "operation", "error_type"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to ~3s
			},
			[]string{"backend", "operation"},
		),
		conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_conflicts_total",
				Help:      "Total number of conditional write conflicts per backend and operation",
			},
			[]string{"backend", "operation"},
		),
		partialFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_failures_total",
				Help:      "Total number of appends whose aggregate update failed",
			},
			[]string{"backend", "operation"},
		),
		reconciles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconciles_total",
				Help:      "Total number of reconciliation passes per backend, by whether drift was repaired",
			},
			[]string{"backend", "drift"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per backend",
			},
			[]string{"backend"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "activity_queue_depth",
				Help:      "Current activity writer queue depth per sink",
			},
			[]string{"sink"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_dropped_total",
				Help:      "Total number of dropped activity entries per sink",
			},
			[]string{"sink"},
		),
		asyncWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_writes_total",
				Help:      "Total number of activity entries written per sink and status",
			},
			[]string{"sink", "status"},
		),
		asyncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "activity_write_duration_seconds",
				Help:      "Activity sink write latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"sink"},
		),
	}
}

func (pc *PrometheusCollector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.operations,
		pc.errors,
		pc.latency,
		pc.conflicts,
		pc.partialFailures,
		pc.reconciles,
		pc.circuitOpens,
		pc.circuitState,
		pc.queueDepth,
		pc.droppedWrites,
		pc.asyncWrites,
		pc.asyncLatency,
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry *prometheus.Registry) error {
	for _, collector := range pc.collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation records a completed store operation.
func (pc *PrometheusCollector) RecordOperation(backend, operation string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.operations.WithLabelValues(backend, operation, status).Inc()
	pc.latency.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordError records an error by type.
func (pc *PrometheusCollector) RecordError(backend, operation, errorType string) {
	pc.errors.WithLabelValues(backend, operation, errorType).Inc()
}

// RecordConflict records a conditional write conflict.
func (pc *PrometheusCollector) RecordConflict(backend, operation string) {
	pc.conflicts.WithLabelValues(backend, operation).Inc()
}

// RecordPartialFailure records an append whose aggregate update failed.
func (pc *PrometheusCollector) RecordPartialFailure(backend, operation string) {
	pc.partialFailures.WithLabelValues(backend, operation).Inc()
}

// RecordReconcile records a reconciliation pass.
func (pc *PrometheusCollector) RecordReconcile(backend string, drift bool) {
	label := "false"
	if drift {
		label = "true"
	}
	pc.reconciles.WithLabelValues(backend, label).Inc()
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(backend string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(backend).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(backend).Inc()
	}
}

// RecordQueueDepth records the current activity writer queue depth.
func (pc *PrometheusCollector) RecordQueueDepth(sink string, depth int) {
	pc.queueDepth.WithLabelValues(sink).Set(float64(depth))
}

// RecordWriteDropped records a dropped activity entry.
func (pc *PrometheusCollector) RecordWriteDropped(sink string) {
	pc.droppedWrites.WithLabelValues(sink).Inc()
}

// RecordAsyncWrite records an activity entry reaching its sink.
func (pc *PrometheusCollector) RecordAsyncWrite(sink string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.asyncWrites.WithLabelValues(sink, status).Inc()
	pc.asyncLatency.WithLabelValues(sink).Observe(duration.Seconds())
}
