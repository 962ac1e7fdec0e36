package activity

import (
	"context"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Recorder accepts activity entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Store decorates a ledger.Store so that every mutation that reached the log
// is also recorded as activity. A failed recording is logged and never fails
// the mutation.
type Store struct {
	inner    ledger.Store
	ledgerID string
	recorder Recorder
	clock    ledger.Clock
	logger   *logging.Logger
}

// Wrap returns inner decorated with activity recording.
func Wrap(inner ledger.Store, ledgerID string, recorder Recorder, clock ledger.Clock, logger *logging.Logger) *Store {
	if clock == nil {
		clock = ledger.SystemClock
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Store{
		inner:    inner,
		ledgerID: ledgerID,
		recorder: recorder,
		clock:    clock,
		logger:   logger.Named("activity").ForLedger(inner.Name(), ledgerID),
	}
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.Provisioner = (*Store)(nil)
)

// Unwrap returns the decorated store.
func (s *Store) Unwrap() ledger.Store {
	return s.inner
}

func (s *Store) Name() string {
	return s.inner.Name()
}

func (s *Store) GetNames(ctx context.Context) ([]string, error) {
	return s.inner.GetNames(ctx)
}

func (s *Store) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	return s.inner.GetBalances(ctx)
}

func (s *Store) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	return s.inner.GetLastNTransactions(ctx, n)
}

func (s *Store) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.inner.GetSplitAwards(ctx)
}

func (s *Store) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	return s.inner.Reconcile(ctx)
}

func (s *Store) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	tx, err := s.inner.AddSplit(ctx, name, split)
	s.observe(ctx, ledger.OpAddSplit, tx, err)
	return tx, err
}

func (s *Store) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	tx, err := s.inner.AddConversion(ctx, name, split)
	s.observe(ctx, ledger.OpAddConversion, tx, err)
	return tx, err
}

func (s *Store) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	tx, err := s.inner.RemoveLastTransaction(ctx)
	s.observe(ctx, ledger.OpRemoveLast, tx, err)
	return tx, err
}

// Provision forwards to the inner store when it needs provisioning.
func (s *Store) Provision(ctx context.Context, players []string) error {
	if p, ok := s.inner.(ledger.Provisioner); ok {
		return p.Provision(ctx, players)
	}
	return nil
}

// RecentActivity reads from the recorder when it can be read back.
func (s *Store) RecentActivity(ctx context.Context, n int) ([]Entry, error) {
	if r, ok := s.recorder.(Reader); ok {
		return r.RecentActivity(ctx, n)
	}
	if w, ok := s.recorder.(*Writer); ok {
		if r, ok := w.Sink().(Reader); ok {
			return r.RecentActivity(ctx, n)
		}
	}
	return []Entry{}, nil
}

func (s *Store) Close() error {
	return s.inner.Close()
}

// observe records tx if the mutation reached the log. A partial update did.
func (s *Store) observe(ctx context.Context, op string, tx ledger.Transaction, err error) {
	if err != nil && !ledger.IsPartialUpdate(err) {
		return
	}

	kind, _ := KindFor(op)
	var entry Entry
	if kind == KindUndo {
		entry = NewUndoEntry(s.ledgerID, tx, s.clock())
	} else {
		entry = NewEntry(s.ledgerID, kind, tx, s.clock())
	}

	if rerr := s.recorder.Record(ctx, entry); rerr != nil {
		s.logger.Warn("activity not recorded",
			logging.Operation(op),
			logging.Seq(tx.Seq),
			zap.Error(rerr),
		)
	}
}
