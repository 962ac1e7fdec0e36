package memory

import (
	"sync"
	"time"

	"pot-ledger/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-backend metrics
	backendMetrics map[string]*BackendMetrics

	// Per-sink activity writer metrics
	sinkMetrics map[string]*SinkMetrics
}

// BackendMetrics holds metrics for a single ledger backend.
type BackendMetrics struct {
	// Operation counts by operation name
	Operations map[string]int64
	Errors     int64

	// Error types (by error_type label)
	ErrorsByType map[string]int64

	// Write protocol
	Conflicts       map[string]int64
	PartialFailures int64
	Reconciles      int64
	Drifts          int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	// Latencies (simple stats)
	Latencies []time.Duration
}

// SinkMetrics holds metrics for one activity sink.
type SinkMetrics struct {
	QueueDepth    int
	DroppedWrites int64
	AsyncWrites   int64
	AsyncErrors   int64
	AsyncLatency  []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		backendMetrics: make(map[string]*BackendMetrics),
		sinkMetrics:    make(map[string]*SinkMetrics),
	}
}

// backend returns the metrics for a backend, creating them if needed.
// Callers must hold mc.mu.
func (mc *MemoryCollector) backend(name string) *BackendMetrics {
	bm, ok := mc.backendMetrics[name]
	if !ok {
		bm = &BackendMetrics{
			Operations:   make(map[string]int64),
			ErrorsByType: make(map[string]int64),
			Conflicts:    make(map[string]int64),
		}
		mc.backendMetrics[name] = bm
	}
	return bm
}

// sink returns the metrics for a sink, creating them if needed.
// Callers must hold mc.mu.
func (mc *MemoryCollector) sink(name string) *SinkMetrics {
	sm, ok := mc.sinkMetrics[name]
	if !ok {
		sm = &SinkMetrics{}
		mc.sinkMetrics[name] = sm
	}
	return sm
}

// RecordOperation records a completed store operation.
func (mc *MemoryCollector) RecordOperation(backend, operation string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backend(backend)
	bm.Operations[operation]++
	if !success {
		bm.Errors++
	}
	bm.Latencies = append(bm.Latencies, duration)
}

// RecordError records an error by type.
func (mc *MemoryCollector) RecordError(backend, operation, errorType string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backend(backend).ErrorsByType[errorType]++
}

// RecordConflict records a conditional write conflict.
func (mc *MemoryCollector) RecordConflict(backend, operation string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backend(backend).Conflicts[operation]++
}

// RecordPartialFailure records an append whose aggregate update failed.
func (mc *MemoryCollector) RecordPartialFailure(backend, operation string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backend(backend).PartialFailures++
}

// RecordReconcile records a reconciliation pass.
func (mc *MemoryCollector) RecordReconcile(backend string, drift bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backend(backend)
	bm.Reconciles++
	if drift {
		bm.Drifts++
	}
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(backend string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	bm := mc.backend(backend)
	oldState := bm.CircuitState
	bm.CircuitState = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		bm.CircuitOpens++
	}
}

// RecordQueueDepth records the current activity writer queue depth.
func (mc *MemoryCollector) RecordQueueDepth(sink string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sink(sink).QueueDepth = depth
}

// RecordWriteDropped records a dropped activity entry.
func (mc *MemoryCollector) RecordWriteDropped(sink string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sink(sink).DroppedWrites++
}

// RecordAsyncWrite records an activity entry reaching its sink.
func (mc *MemoryCollector) RecordAsyncWrite(sink string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	sm := mc.sink(sink)
	sm.AsyncWrites++
	if !success {
		sm.AsyncErrors++
	}
	sm.AsyncLatency = append(sm.AsyncLatency, duration)
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Backends map[string]BackendMetrics
	Sinks    map[string]SinkMetrics
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		Backends: make(map[string]BackendMetrics, len(mc.backendMetrics)),
		Sinks:    make(map[string]SinkMetrics, len(mc.sinkMetrics)),
	}

	for name, bm := range mc.backendMetrics {
		snapshot.Backends[name] = bm.clone()
	}
	for name, sm := range mc.sinkMetrics {
		c := *sm
		c.AsyncLatency = append([]time.Duration(nil), sm.AsyncLatency...)
		snapshot.Sinks[name] = c
	}

	return snapshot
}

func (bm *BackendMetrics) clone() BackendMetrics {
	c := *bm
	c.Operations = copyCounts(bm.Operations)
	c.ErrorsByType = copyCounts(bm.ErrorsByType)
	c.Conflicts = copyCounts(bm.Conflicts)
	c.Latencies = append([]time.Duration(nil), bm.Latencies...)
	return c
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.backendMetrics = make(map[string]*BackendMetrics)
	mc.sinkMetrics = make(map[string]*SinkMetrics)
}

// GetBackendMetrics returns a copy of the metrics for one backend, or nil.
func (mc *MemoryCollector) GetBackendMetrics(backend string) *BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if bm, ok := mc.backendMetrics[backend]; ok {
		c := bm.clone()
		return &c
	}
	return nil
}

// GetSinkMetrics returns a copy of the metrics for one activity sink, or nil.
func (mc *MemoryCollector) GetSinkMetrics(sink string) *SinkMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if sm, ok := mc.sinkMetrics[sink]; ok {
		c := *sm
		c.AsyncLatency = append([]time.Duration(nil), sm.AsyncLatency...)
		return &c
	}
	return nil
}
