package memory

import (
	"context"
	"fmt"
	"sync"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
)

// Store is a volatile ledger.Store that lives for the process lifetime.
// Each logical table has its own lock: the log and aggregate share txMu,
// the roster and the award table have their own.
type Store struct {
	// txMu guards txns, balances and nextSeq, which always change together.
	txMu     sync.Mutex
	txns     []ledger.Transaction
	balances map[string]decimal.Decimal
	nextSeq  int64

	namesMu sync.RWMutex
	names   []string

	awardsMu sync.RWMutex
	awards   awards.Table

	config Config
}

// Config holds configuration for the volatile store.
type Config struct {
	// Name is the backend identifier reported by Name().
	Name string

	// Players is the initial roster. Pot is added automatically.
	Players []string

	// Awards is the split award table. Defaults to the demo table.
	Awards awards.Table

	// Clock stamps new transactions. Defaults to the system clock.
	Clock ledger.Clock
}

// DemoConfig returns the roster and award table the volatile store ships with.
func DemoConfig() Config {
	return Config{
		Name:    "memory",
		Players: []string{"Alice", "Bob", "Charlie", "Dana"},
		Awards:  awards.Demo(),
	}
}

// New creates an empty, provisioned ledger.
func New(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.Awards.Len() == 0 {
		config.Awards = awards.Demo()
	}
	if config.Clock == nil {
		config.Clock = ledger.SystemClock
	}

	names := ledger.Roster(config.Players)
	return &Store{
		balances: ledger.Fold(nil, names),
		nextSeq:  1,
		names:    names,
		awards:   config.Awards,
		config:   config,
	}
}

// Name returns the backend identifier.
func (s *Store) Name() string {
	return s.config.Name
}

// GetNames returns the roster, Pot included.
func (s *Store) GetNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.namesMu.RLock()
	defer s.namesMu.RUnlock()

	out := make([]string, len(s.names))
	copy(out, s.names)
	return out, nil
}

// GetBalances returns the aggregate sorted by name.
func (s *Store) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	return ledger.BalancesFrom(s.balances), nil
}

// GetLastNTransactions returns up to n recent transactions, oldest first.
func (s *Store) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return []ledger.Transaction{}, nil
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if n > len(s.txns) {
		n = len(s.txns)
	}
	out := make([]ledger.Transaction, n)
	copy(out, s.txns[len(s.txns)-n:])
	return out, nil
}

// RemoveLastTransaction pops the newest transaction and reverses it.
func (s *Store) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if len(s.txns) == 0 {
		return ledger.Transaction{}, ledger.ErrEmptyLedger
	}

	last := s.txns[len(s.txns)-1]
	s.txns = s.txns[:len(s.txns)-1]
	last.Revert(s.balances)
	return last, nil
}

// AddSplit records name paying one unit into the pot.
func (s *Store) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, name, func(pot decimal.Decimal) ledger.Transaction {
		return ledger.NewSplit(name, split, pot, s.config.Clock())
	})
}

// AddConversion records name cashing in the award for split.
func (s *Store) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.awardsMu.RLock()
	percent, err := ledger.LookupAward(s.awards, split)
	s.awardsMu.RUnlock()
	if err != nil {
		return ledger.Transaction{}, err
	}

	return s.record(ctx, name, func(pot decimal.Decimal) ledger.Transaction {
		return ledger.NewConversion(name, split, pot, percent, s.config.Clock())
	})
}

func (s *Store) record(ctx context.Context, name string, build func(pot decimal.Decimal) ledger.Transaction) (ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}

	s.join(name)

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := build(s.balances[ledger.Pot])
	tx.Seq = s.nextSeq
	s.nextSeq++
	s.txns = append(s.txns, tx)
	tx.Apply(s.balances)
	return tx, nil
}

// join adds a player first seen in a mutation to the roster.
func (s *Store) join(name string) {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()

	for _, n := range s.names {
		if n == name {
			return
		}
	}
	s.names = ledger.Roster(append(s.names, name))
}

// GetSplitAwards returns a copy of the award table.
func (s *Store) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.awardsMu.RLock()
	defer s.awardsMu.RUnlock()

	return s.awards.Map(), nil
}

// Reconcile refolds the log and replaces the aggregate if they disagree.
func (s *Store) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	names, err := s.GetNames(ctx)
	if err != nil {
		return ledger.ReconcileReport{}, err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	folded := ledger.Fold(s.txns, names)
	report := ledger.ReconcileReport{
		Before:       ledger.BalancesFrom(s.balances),
		Transactions: len(s.txns),
	}
	if !ledger.Equal(folded, s.balances) {
		report.Drift = true
		s.balances = folded
	}
	report.After = ledger.BalancesFrom(s.balances)
	return report, nil
}

// Close is a no-op; the ledger is discarded with the Store.
func (s *Store) Close() error {
	return nil
}

// String implements fmt.Stringer for debugging.
func (s *Store) String() string {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fmt.Sprintf("memory.Store{name=%s, transactions=%d, next_seq=%d}", s.config.Name, len(s.txns), s.nextSeq)
}
