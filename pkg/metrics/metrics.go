package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Store operations
	RecordOperation(backend, operation string, success bool, duration time.Duration)
	RecordError(backend, operation, errorType string)

	// Write protocol
	RecordConflict(backend, operation string)
	RecordPartialFailure(backend, operation string)
	RecordReconcile(backend string, drift bool)

	// Circuit breaker
	RecordCircuitState(backend string, state CircuitState)

	// Activity writer
	RecordQueueDepth(sink string, depth int)
	RecordWriteDropped(sink string)
	RecordAsyncWrite(sink string, success bool, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordOperation does nothing.
func (NoOpCollector) RecordOperation(backend, operation string, success bool, duration time.Duration) {
}

// RecordError does nothing.
func (NoOpCollector) RecordError(backend, operation, errorType string) {}

// RecordConflict does nothing.
func (NoOpCollector) RecordConflict(backend, operation string) {}

// RecordPartialFailure does nothing.
func (NoOpCollector) RecordPartialFailure(backend, operation string) {}

// RecordReconcile does nothing.
func (NoOpCollector) RecordReconcile(backend string, drift bool) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(backend string, state CircuitState) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(sink string, depth int) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(sink string) {}

// RecordAsyncWrite does nothing.
func (NoOpCollector) RecordAsyncWrite(sink string, success bool, duration time.Duration) {}
