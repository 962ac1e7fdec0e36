package activity

import (
	"context"
	"sync"

	"pot-ledger/pkg/logging"

	"go.uber.org/zap"
)

// MemorySink keeps entries in memory. It is the sink for tests and for the
// volatile backend.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

var (
	_ Sink   = (*MemorySink)(nil)
	_ Reader = (*MemorySink)(nil)
)

func (m *MemorySink) Name() string { return "memory" }

// Write appends entries.
func (m *MemorySink) Write(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

// Entries returns a copy of everything written so far.
func (m *MemorySink) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// RecentActivity returns up to n of the newest entries, oldest first.
func (m *MemorySink) RecentActivity(ctx context.Context, n int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return []Entry{}, nil
	}
	if n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]Entry, n)
	copy(out, m.entries[len(m.entries)-n:])
	return out, nil
}

func (m *MemorySink) Close() error { return nil }

// LogSink writes each entry as a structured log line.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink over logger. A nil logger uses the global one.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogSink{logger: logger.Named("activity")}
}

var _ Sink = (*LogSink)(nil)

func (l *LogSink) Name() string { return "log" }

// Write logs every entry at info level.
func (l *LogSink) Write(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		l.logger.Info("ledger activity",
			zap.String("id", e.ID),
			logging.Ledger(e.Ledger),
			zap.String("kind", string(e.Kind)),
			logging.Seq(e.Seq),
			zap.String("creditor", e.Creditor),
			zap.String("debtor", e.Debtor),
			zap.String("amount", e.Amount),
			zap.String("split", e.Split),
			zap.String("pot_amount", e.PotAmount),
			zap.Time("recorded_at", e.RecordedAt),
		)
	}
	return nil
}

func (l *LogSink) Close() error {
	// Sync reports an error for console outputs on some platforms.
	_ = l.logger.Sync()
	return nil
}
