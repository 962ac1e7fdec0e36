package activity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/ledger/ledgertest"

	"github.com/shopspring/decimal"
)

// recorderFunc adapts a function to Recorder.
type recorderFunc func(ctx context.Context, entry Entry) error

func (f recorderFunc) Record(ctx context.Context, entry Entry) error { return f(ctx, entry) }

// sinkRecorder records each entry straight into the embedded sink, which
// also serves RecentActivity.
type sinkRecorder struct{ *MemorySink }

func (r sinkRecorder) Record(ctx context.Context, entry Entry) error {
	return r.Write(ctx, []Entry{entry})
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 18, 4, 5, 0, time.UTC)
}

func TestStore_RecordsMutations(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.AddSplitFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{Seq: 1, Creditor: ledger.Pot, Debtor: name, Amount: ledger.SplitAmount, Split: split}, nil
	}
	inner.AddConversionFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{Seq: 2, Creditor: name, Debtor: ledger.Pot, Amount: decimal.RequireFromString("0.25"), Split: split, PotAmount: ledger.SplitAmount}, nil
	}
	inner.RemoveLastTransactionFunc = func(ctx context.Context) (ledger.Transaction, error) {
		return ledger.Transaction{Seq: 2}, nil
	}

	sink := NewMemorySink()
	s := Wrap(inner, "league", sinkRecorder{sink}, fixedClock, nil)
	ctx := context.Background()

	if _, err := s.AddSplit(ctx, "Alice", "7-10"); err != nil {
		t.Fatalf("AddSplit failed: %v", err)
	}
	if _, err := s.AddConversion(ctx, "Bob", "7-10"); err != nil {
		t.Fatalf("AddConversion failed: %v", err)
	}
	if _, err := s.RemoveLastTransaction(ctx); err != nil {
		t.Fatalf("RemoveLastTransaction failed: %v", err)
	}

	entries := sink.Entries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	wantKinds := []Kind{KindSplit, KindConversion, KindUndo}
	for i, e := range entries {
		if e.Kind != wantKinds[i] {
			t.Errorf("entry %d kind = %s, want %s", i, e.Kind, wantKinds[i])
		}
		if e.Ledger != "league" {
			t.Errorf("entry %d ledger = %q", i, e.Ledger)
		}
	}
	if entries[1].Amount != "0.25" || entries[1].Creditor != "Bob" {
		t.Errorf("unexpected conversion entry %+v", entries[1])
	}
	if entries[2].Amount != UndoPlaceholder || entries[2].Seq != 2 {
		t.Errorf("unexpected undo entry %+v", entries[2])
	}

	recent, err := s.RecentActivity(ctx, 1)
	if err != nil || len(recent) != 1 || recent[0].Kind != KindUndo {
		t.Errorf("RecentActivity = %+v, %v", recent, err)
	}
}

func TestStore_SkipsFailedMutations(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.AddSplitFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{}, ledger.ErrInvalidSplit
	}
	inner.RemoveLastTransactionFunc = func(ctx context.Context) (ledger.Transaction, error) {
		return ledger.Transaction{}, ledger.ErrEmptyLedger
	}

	sink := NewMemorySink()
	s := Wrap(inner, "league", sinkRecorder{sink}, fixedClock, nil)

	s.AddSplit(context.Background(), "Alice", "1-1")
	s.RemoveLastTransaction(context.Background())

	if n := len(sink.Entries()); n != 0 {
		t.Errorf("Expected no entries for failed mutations, got %d", n)
	}
}

func TestStore_RecordsPartialUpdates(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.AddSplitFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{Seq: 9, Debtor: name}, fmt.Errorf("%w: seq 9", ledger.ErrPartialUpdate)
	}

	sink := NewMemorySink()
	s := Wrap(inner, "league", sinkRecorder{sink}, fixedClock, nil)

	_, err := s.AddSplit(context.Background(), "Alice", "7-10")
	if !errors.Is(err, ledger.ErrPartialUpdate) {
		t.Fatalf("Expected the partial update to be returned, got %v", err)
	}
	entries := sink.Entries()
	if len(entries) != 1 || entries[0].Seq != 9 {
		t.Errorf("Expected the appended transaction to be recorded, got %+v", entries)
	}
}

func TestStore_RecorderFailureDoesNotFailMutation(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	s := Wrap(inner, "league", recorderFunc(func(ctx context.Context, entry Entry) error {
		return ErrQueueFull
	}), fixedClock, nil)

	if _, err := s.AddSplit(context.Background(), "Alice", "7-10"); err != nil {
		t.Errorf("AddSplit failed: %v", err)
	}
}

func TestStore_ForwardsReads(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	s := Wrap(inner, "league", sinkRecorder{NewMemorySink()}, nil, nil)
	ctx := context.Background()

	s.GetNames(ctx)
	s.GetBalances(ctx)
	s.GetLastNTransactions(ctx, 3)
	s.GetSplitAwards(ctx)

	if got := inner.ReadCalls(); got != 4 {
		t.Errorf("Expected 4 forwarded reads, got %d", got)
	}
	if s.Name() != "fake" {
		t.Errorf("Name = %q, want fake", s.Name())
	}
	if s.Unwrap() != ledger.Store(inner) {
		t.Error("Unwrap should return the inner store")
	}
	s.Close()
	if inner.CloseCalls() != 1 {
		t.Error("Close should reach the inner store")
	}
}
