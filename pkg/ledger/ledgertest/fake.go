package ledgertest

import (
	"context"
	"sync/atomic"

	"pot-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
)

// FakeStore is a ledger.Store whose behaviour is set per method through hooks.
// Unset hooks return zero values and a nil error. Call counts are race-free.
type FakeStore struct {
	NameFunc                  func() string
	GetNamesFunc              func(ctx context.Context) ([]string, error)
	GetBalancesFunc           func(ctx context.Context) ([]ledger.Balance, error)
	GetLastNTransactionsFunc  func(ctx context.Context, n int) ([]ledger.Transaction, error)
	RemoveLastTransactionFunc func(ctx context.Context) (ledger.Transaction, error)
	AddSplitFunc              func(ctx context.Context, name, split string) (ledger.Transaction, error)
	AddConversionFunc         func(ctx context.Context, name, split string) (ledger.Transaction, error)
	GetSplitAwardsFunc        func(ctx context.Context) (map[string]decimal.Decimal, error)
	ReconcileFunc             func(ctx context.Context) (ledger.ReconcileReport, error)
	CloseFunc                 func() error

	readCalls     int64
	mutationCalls int64
	closeCalls    int64
}

// NewFakeStore returns a FakeStore reporting the given backend name.
func NewFakeStore(name string) *FakeStore {
	return &FakeStore{NameFunc: func() string { return name }}
}

// Name implements ledger.Store.
func (f *FakeStore) Name() string {
	if f.NameFunc != nil {
		return f.NameFunc()
	}
	return "fake"
}

// GetNames implements ledger.Store.
func (f *FakeStore) GetNames(ctx context.Context) ([]string, error) {
	atomic.AddInt64(&f.readCalls, 1)
	if f.GetNamesFunc != nil {
		return f.GetNamesFunc(ctx)
	}
	return []string{ledger.Pot}, nil
}

// GetBalances implements ledger.Store.
func (f *FakeStore) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	atomic.AddInt64(&f.readCalls, 1)
	if f.GetBalancesFunc != nil {
		return f.GetBalancesFunc(ctx)
	}
	return nil, nil
}

// GetLastNTransactions implements ledger.Store.
func (f *FakeStore) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	atomic.AddInt64(&f.readCalls, 1)
	if f.GetLastNTransactionsFunc != nil {
		return f.GetLastNTransactionsFunc(ctx, n)
	}
	return []ledger.Transaction{}, nil
}

// RemoveLastTransaction implements ledger.Store.
func (f *FakeStore) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	atomic.AddInt64(&f.mutationCalls, 1)
	if f.RemoveLastTransactionFunc != nil {
		return f.RemoveLastTransactionFunc(ctx)
	}
	return ledger.Transaction{}, nil
}

// AddSplit implements ledger.Store.
func (f *FakeStore) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	atomic.AddInt64(&f.mutationCalls, 1)
	if f.AddSplitFunc != nil {
		return f.AddSplitFunc(ctx, name, split)
	}
	return ledger.Transaction{}, nil
}

// AddConversion implements ledger.Store.
func (f *FakeStore) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	atomic.AddInt64(&f.mutationCalls, 1)
	if f.AddConversionFunc != nil {
		return f.AddConversionFunc(ctx, name, split)
	}
	return ledger.Transaction{}, nil
}

// GetSplitAwards implements ledger.Store.
func (f *FakeStore) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	atomic.AddInt64(&f.readCalls, 1)
	if f.GetSplitAwardsFunc != nil {
		return f.GetSplitAwardsFunc(ctx)
	}
	return map[string]decimal.Decimal{}, nil
}

// Reconcile implements ledger.Store.
func (f *FakeStore) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	atomic.AddInt64(&f.mutationCalls, 1)
	if f.ReconcileFunc != nil {
		return f.ReconcileFunc(ctx)
	}
	return ledger.ReconcileReport{}, nil
}

// Close implements ledger.Store.
func (f *FakeStore) Close() error {
	atomic.AddInt64(&f.closeCalls, 1)
	if f.CloseFunc != nil {
		return f.CloseFunc()
	}
	return nil
}

// ReadCalls returns how many read operations were invoked.
func (f *FakeStore) ReadCalls() int {
	return int(atomic.LoadInt64(&f.readCalls))
}

// MutationCalls returns how many mutating operations (including Reconcile) were invoked.
func (f *FakeStore) MutationCalls() int {
	return int(atomic.LoadInt64(&f.mutationCalls))
}

// CloseCalls returns how many times Close was invoked.
func (f *FakeStore) CloseCalls() int {
	return int(atomic.LoadInt64(&f.closeCalls))
}
