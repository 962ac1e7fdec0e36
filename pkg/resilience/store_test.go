package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/ledger/ledgertest"
	"pot-ledger/pkg/metrics"
	metricsmem "pot-ledger/pkg/metrics/memory"
	"pot-ledger/pkg/store/memory"
)

var errBackendDown = fmt.Errorf("%w: connection refused", ledger.ErrBackendUnavailable)

func TestWrap_Success(t *testing.T) {
	collector := metricsmem.NewMemoryCollector()
	s := Wrap(memory.New(memory.DemoConfig()), DefaultConfig(), collector, nil)
	defer s.Close()
	ctx := context.Background()

	if s.Name() != "memory" {
		t.Errorf("Expected name 'memory', got '%s'", s.Name())
	}

	tx, err := s.AddSplit(ctx, "Alice", "7-10")
	if err != nil {
		t.Fatalf("AddSplit failed: %v", err)
	}
	if tx.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", tx.Seq)
	}

	balances, err := s.GetBalances(ctx)
	if err != nil {
		t.Fatalf("GetBalances failed: %v", err)
	}
	if len(balances) == 0 {
		t.Error("Expected balances")
	}

	bm := collector.GetBackendMetrics("memory")
	if bm == nil {
		t.Fatal("Expected metrics for memory backend")
	}
	if bm.Operations[ledger.OpAddSplit] != 1 || bm.Operations[ledger.OpGetBalances] != 1 {
		t.Errorf("unexpected operation counts %v", bm.Operations)
	}
	if bm.Errors != 0 {
		t.Errorf("Expected no errors, got %d", bm.Errors)
	}
}

func TestWrap_CircuitOpensOnBackendFailures(t *testing.T) {
	inner := ledgertest.NewFakeStore("flaky")
	inner.GetBalancesFunc = func(ctx context.Context) ([]ledger.Balance, error) {
		return nil, errBackendDown
	}
	collector := metricsmem.NewMemoryCollector()
	s := Wrap(inner, DefaultConfig(), collector, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.GetBalances(ctx); !errors.Is(err, errBackendDown) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}

	_, err := s.GetBalances(ctx)
	if !errors.Is(err, ledger.ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if !ledger.IsUnavailable(err) {
		t.Error("ErrCircuitOpen should be a backend-unavailable error")
	}
	if inner.ReadCalls() != 5 {
		t.Errorf("Expected the open circuit to short-circuit, inner saw %d calls", inner.ReadCalls())
	}
	if s.State() != metrics.CircuitOpen {
		t.Errorf("Expected open state, got %s", s.State())
	}

	bm := collector.GetBackendMetrics("flaky")
	if bm.CircuitOpens != 1 {
		t.Errorf("Expected 1 circuit open, got %d", bm.CircuitOpens)
	}
	if bm.ErrorsByType["circuit_breaker_open"] != 1 {
		t.Errorf("unexpected error types %v", bm.ErrorsByType)
	}
}

func TestWrap_DomainErrorsDoNotTrip(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.AddConversionFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{}, ledger.ErrInvalidSplit
	}
	inner.RemoveLastTransactionFunc = func(ctx context.Context) (ledger.Transaction, error) {
		return ledger.Transaction{}, ledger.ErrEmptyLedger
	}
	s := Wrap(inner, DefaultConfig(), nil, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.AddConversion(ctx, "Alice", "1-1")
		s.RemoveLastTransaction(ctx)
	}

	if s.State() != metrics.CircuitClosed {
		t.Errorf("Expected closed state, got %s", s.State())
	}
	if _, err := s.RemoveLastTransaction(ctx); !errors.Is(err, ledger.ErrEmptyLedger) {
		t.Errorf("Expected ErrEmptyLedger, got %v", err)
	}
}

func TestWrap_Timeout(t *testing.T) {
	inner := ledgertest.NewFakeStore("slow")
	inner.GetNamesFunc = func(ctx context.Context) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := Wrap(inner, DefaultConfig().WithTimeout(20*time.Millisecond), nil, nil)

	start := time.Now()
	_, err := s.GetNames(context.Background())
	if !errors.Is(err, ledger.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if !ledger.IsUnavailable(err) {
		t.Error("ErrTimeout should be a backend-unavailable error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestWrap_CallerCancellationIsNotTimeout(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.GetNamesFunc = func(ctx context.Context) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := Wrap(inner, DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetNames(ctx)
	if errors.Is(err, ledger.ErrTimeout) {
		t.Error("caller cancellation reported as timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestWrap_PartialUpdateKeepsTransaction(t *testing.T) {
	inner := ledgertest.NewFakeStore("fake")
	inner.AddSplitFunc = func(ctx context.Context, name, split string) (ledger.Transaction, error) {
		return ledger.Transaction{Seq: 3, Debtor: name}, fmt.Errorf("%w: seq 3", ledger.ErrPartialUpdate)
	}
	s := Wrap(inner, DefaultConfig(), nil, nil)

	tx, err := s.AddSplit(context.Background(), "Alice", "7-10")
	if !ledger.IsPartialUpdate(err) {
		t.Fatalf("Expected partial update, got %v", err)
	}
	if tx.Seq != 3 {
		t.Errorf("Expected the appended transaction, got %+v", tx)
	}
}

type provisioningStore struct {
	*ledgertest.FakeStore
	players []string
}

func (p *provisioningStore) Provision(ctx context.Context, players []string) error {
	p.players = players
	return nil
}

func TestWrap_Provision(t *testing.T) {
	inner := &provisioningStore{FakeStore: ledgertest.NewFakeStore("fake")}
	s := Wrap(inner, DefaultConfig(), nil, nil)

	if err := s.Provision(context.Background(), []string{"Alice"}); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if len(inner.players) != 1 {
		t.Error("Provision should reach the inner store")
	}

	plain := Wrap(ledgertest.NewFakeStore("plain"), DefaultConfig(), nil, nil)
	if err := plain.Provision(context.Background(), []string{"Alice"}); err != nil {
		t.Errorf("Provision on a store without provisioning should be a no-op, got %v", err)
	}
}

func TestIsBackendFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ledger.ErrInvalidSplit, false},
		{ledger.ErrInvalidName, false},
		{ledger.ErrEmptyLedger, false},
		{ledger.ErrNotFound, false},
		{ledger.ErrConditionalWriteConflict, false},
		{context.Canceled, false},
		{errBackendDown, true},
		{ledger.ErrPartialUpdate, true},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), true},
	}

	for _, tt := range tests {
		if got := IsBackendFailure(tt.err); got != tt.want {
			t.Errorf("IsBackendFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
