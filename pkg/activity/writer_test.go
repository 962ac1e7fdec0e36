package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pot-ledger/pkg/ledger"
	metricsmem "pot-ledger/pkg/metrics/memory"

	"github.com/shopspring/decimal"
)

// funcSink is a Sink whose Write is supplied by the test.
type funcSink struct {
	WriteFunc func(ctx context.Context, entries []Entry) error
	closed    bool
}

func (f *funcSink) Name() string { return "func" }

func (f *funcSink) Write(ctx context.Context, entries []Entry) error {
	if f.WriteFunc != nil {
		return f.WriteFunc(ctx, entries)
	}
	return nil
}

func (f *funcSink) Close() error {
	f.closed = true
	return nil
}

func testEntry(seq int64) Entry {
	tx := ledger.Transaction{
		Seq:       seq,
		Creditor:  ledger.Pot,
		Debtor:    "Alice",
		Amount:    ledger.SplitAmount,
		Split:     "7-10",
		PotAmount: decimal.NewFromInt(seq - 1),
	}
	return NewEntry("test", KindSplit, tx, time.Date(2024, 3, 9, 18, 4, 5, 0, time.UTC))
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(NewMemorySink(), WriterConfig{}, nil, nil)
	defer w.Close()

	if cap(w.queue) != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", cap(w.queue))
	}
	if w.config.Workers != 1 {
		t.Errorf("Expected default workers 1, got %d", w.config.Workers)
	}
	if w.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("Expected default MaxWaitTime 10ms, got %v", w.config.MaxWaitTime)
	}
}

func TestWriter_RecordsInOrder(t *testing.T) {
	sink := NewMemorySink()
	collector := metricsmem.NewMemoryCollector()
	w := NewWriter(sink, WriterConfig{QueueSize: 100}, collector, nil)

	for seq := int64(1); seq <= 20; seq++ {
		if err := w.Record(context.Background(), testEntry(seq)); err != nil {
			t.Fatalf("Record(%d) failed: %v", seq, err)
		}
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	entries := sink.Entries()
	if len(entries) != 20 {
		t.Fatalf("Expected 20 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d has seq %d, want %d", i, e.Seq, i+1)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	sm := collector.GetSinkMetrics("memory")
	if sm == nil || sm.AsyncWrites == 0 {
		t.Errorf("Expected async writes to be recorded, got %+v", sm)
	}
	if stats := w.Stats(); stats.Accepted != 20 || stats.Dropped != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestWriter_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	sink := &funcSink{
		WriteFunc: func(ctx context.Context, entries []Entry) error {
			<-release
			return nil
		},
	}
	collector := metricsmem.NewMemoryCollector()
	w := NewWriter(sink, WriterConfig{QueueSize: 1, BatchSize: 1, MaxWaitTime: time.Millisecond}, collector, nil)
	defer w.Close()
	defer close(release)

	// One entry blocks the worker, one fills the queue.
	var failures int
	for i := int64(1); i <= 5; i++ {
		if err := w.Record(context.Background(), testEntry(i)); errors.Is(err, ErrQueueFull) {
			failures++
		}
	}

	if failures == 0 {
		t.Fatal("Expected at least one dropped entry")
	}
	if got := w.Stats().Dropped; got != int64(failures) {
		t.Errorf("Dropped = %d, want %d", got, failures)
	}
	if sm := collector.GetSinkMetrics("func"); sm == nil || sm.DroppedWrites != int64(failures) {
		t.Errorf("unexpected sink metrics %+v", sm)
	}
}

func TestWriter_CountsFailedWrites(t *testing.T) {
	sink := &funcSink{
		WriteFunc: func(ctx context.Context, entries []Entry) error {
			return errors.New("disk full")
		},
	}
	w := NewWriter(sink, WriterConfig{}, nil, nil)

	if err := w.Record(context.Background(), testEntry(1)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	w.Close()

	if got := w.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestWriter_CloseDrainsAndClosesSink(t *testing.T) {
	var mu sync.Mutex
	var written int
	sink := &funcSink{
		WriteFunc: func(ctx context.Context, entries []Entry) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			written += len(entries)
			mu.Unlock()
			return nil
		},
	}
	w := NewWriter(sink, WriterConfig{QueueSize: 100, BatchSize: 2}, nil, nil)

	for i := int64(1); i <= 10; i++ {
		if err := w.Record(context.Background(), testEntry(i)); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if written != 10 {
		t.Errorf("Expected 10 entries written before close, got %d", written)
	}
	if !sink.closed {
		t.Error("Expected sink to be closed")
	}
	if err := w.Record(context.Background(), testEntry(11)); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestWriter_RecordHonoursContext(t *testing.T) {
	w := NewWriter(NewMemorySink(), WriterConfig{}, nil, nil)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Record(ctx, testEntry(1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNewUndoEntry_Placeholders(t *testing.T) {
	now := time.Date(2024, 3, 9, 18, 4, 5, 0, time.FixedZone("EST", -5*3600))
	e := NewUndoEntry("test", ledger.Transaction{Seq: 4, Creditor: "Alice"}, now)

	for field, v := range map[string]string{
		"creditor": e.Creditor, "debtor": e.Debtor, "amount": e.Amount,
		"split": e.Split, "pot_amount": e.PotAmount,
	} {
		if v != UndoPlaceholder {
			t.Errorf("%s = %q, want %q", field, v, UndoPlaceholder)
		}
	}
	if e.Seq != 4 || e.Kind != KindUndo {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Time != "3/9/2024, 11:04:05 PM UTC" || e.Date != "3/9/2024" {
		t.Errorf("undo stamped %q / %q, want UTC time of the undo", e.Time, e.Date)
	}
	if e.ID == "" {
		t.Error("Expected an entry ID")
	}
}

func TestMemorySink_RecentActivity(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		sink.Write(ctx, []Entry{testEntry(i)})
	}

	recent, err := sink.RecentActivity(ctx, 2)
	if err != nil {
		t.Fatalf("RecentActivity failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Seq != 4 || recent[1].Seq != 5 {
		t.Errorf("unexpected recent entries %+v", recent)
	}

	all, _ := sink.RecentActivity(ctx, 50)
	if len(all) != 5 {
		t.Errorf("Expected 5 entries, got %d", len(all))
	}
	none, _ := sink.RecentActivity(ctx, 0)
	if len(none) != 0 {
		t.Errorf("Expected no entries, got %d", len(none))
	}
}
