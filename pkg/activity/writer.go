package activity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Errors returned by Writer operations.
var (
	// ErrQueueFull is returned when the queue stayed full for MaxWaitTime.
	ErrQueueFull = errors.New("activity: queue full, entry dropped")

	// ErrWriterClosed is returned when recording on a closed writer.
	ErrWriterClosed = errors.New("activity: writer is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain.
	ErrFlushTimeout = errors.New("activity: flush timeout exceeded")
)

// WriterConfig configures the async writer behavior.
type WriterConfig struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 1).
	// More than one worker gives up write ordering.
	Workers int

	// BatchSize caps how many queued entries one sink write carries (default: 50)
	BatchSize int

	// MaxWaitTime is the max time to wait if queue is full.
	// 0 means the default of 10ms.
	MaxWaitTime time.Duration

	// WriteTimeout bounds each sink write (default: 5s)
	WriteTimeout time.Duration

	// ReportInterval is how often queue depth is reported (default: 5s)
	ReportInterval time.Duration
}

// DefaultWriterConfig returns the writer defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:      1000,
		Workers:        1,
		BatchSize:      50,
		MaxWaitTime:    10 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		ReportInterval: 5 * time.Second,
	}
}

// WriterStats provides statistics about writer operations.
type WriterStats struct {
	// QueueDepth is the current number of pending entries
	QueueDepth int

	// Dropped is the total number of entries dropped due to backpressure
	Dropped int64

	// Accepted is the total number of entries queued
	Accepted int64

	// Failed is the total number of entries whose sink write failed
	Failed int64
}

// Writer queues entries and writes them to a Sink from a worker pool.
type Writer struct {
	sink    Sink
	queue   chan Entry
	config  WriterConfig
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	pending  int64
	dropped  int64
	accepted int64
	failed   int64

	ticker *time.Ticker
	stop   chan struct{}
	closed sync.Once
}

// NewWriter starts a writer over sink. It must be closed with Close.
func NewWriter(sink Sink, config WriterConfig, collector metrics.MetricsCollector, logger *logging.Logger) *Writer {
	defaults := DefaultWriterConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = defaults.MaxWaitTime
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ReportInterval == 0 {
		config.ReportInterval = defaults.ReportInterval
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		sink:    sink,
		queue:   make(chan Entry, config.QueueSize),
		config:  config,
		metrics: collector,
		logger:  logger.Named("activity").With(zap.String("sink", sink.Name())),
		ctx:     ctx,
		cancel:  cancel,
		ticker:  time.NewTicker(config.ReportInterval),
		stop:    make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	go w.reportMetrics()

	return w
}

// Record enqueues an entry. If the queue is full it waits up to MaxWaitTime
// before dropping the entry with ErrQueueFull.
func (w *Writer) Record(ctx context.Context, entry Entry) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&w.pending, 1)
	select {
	case w.queue <- entry:
		atomic.AddInt64(&w.accepted, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&w.pending, -1)
		atomic.AddInt64(&w.dropped, 1)
		w.metrics.RecordWriteDropped(w.sink.Name())
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ctx.Err()
	case <-w.ctx.Done():
		atomic.AddInt64(&w.pending, -1)
		return ErrWriterClosed
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	for {
		select {
		case entry := <-w.queue:
			w.write(w.batch(entry))
		case <-w.ctx.Done():
			// Drain what is left before exiting.
			for {
				select {
				case entry := <-w.queue:
					w.write(w.batch(entry))
				default:
					return
				}
			}
		}
	}
}

// batch collects up to BatchSize entries without blocking.
func (w *Writer) batch(first Entry) []Entry {
	entries := []Entry{first}
	for len(entries) < w.config.BatchSize {
		select {
		case e := <-w.queue:
			entries = append(entries, e)
		default:
			return entries
		}
	}
	return entries
}

func (w *Writer) write(entries []Entry) {
	defer atomic.AddInt64(&w.pending, -int64(len(entries)))

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.sink.Write(ctx, entries)
	w.metrics.RecordAsyncWrite(w.sink.Name(), err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&w.failed, int64(len(entries)))
		w.logger.Error("activity write failed",
			zap.Int("entries", len(entries)),
			logging.Seq(entries[0].Seq),
			zap.Error(err),
		)
	}
}

// Flush waits until every accepted entry has been written, or timeout passes.
func (w *Writer) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for atomic.LoadInt64(&w.pending) > 0 {
		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Close stops accepting entries, writes what is queued, and closes the sink.
func (w *Writer) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.stop)
		w.ticker.Stop()
		w.cancel()
		w.wg.Wait()
		err = w.sink.Close()
	})
	return err
}

func (w *Writer) reportMetrics() {
	for {
		select {
		case <-w.ticker.C:
			w.metrics.RecordQueueDepth(w.sink.Name(), len(w.queue))
		case <-w.stop:
			return
		}
	}
}

// Stats returns current statistics about the writer.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		QueueDepth: len(w.queue),
		Dropped:    atomic.LoadInt64(&w.dropped),
		Accepted:   atomic.LoadInt64(&w.accepted),
		Failed:     atomic.LoadInt64(&w.failed),
	}
}

// Sink returns the sink entries are written to.
func (w *Writer) Sink() Sink {
	return w.sink
}
