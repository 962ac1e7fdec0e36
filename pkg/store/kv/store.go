package kv

import (
	"context"
	"errors"
	"fmt"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds configuration for the key-value store.
type Config struct {
	// LedgerID scopes every record the store touches.
	LedgerID string

	// Players is the roster used when the ledger is provisioned.
	Players []string

	// Awards is the split award table. Defaults to the canonical table.
	Awards awards.Table

	// AutoProvision creates the aggregate on first access instead of
	// returning ledger.ErrNotFound.
	AutoProvision bool

	// Retry bounds the conflict retry loop.
	Retry ledger.RetryPolicy

	// Clock stamps new transactions. Defaults to the system clock.
	Clock ledger.Clock

	// Metrics receives conflict, partial failure and reconcile counts.
	Metrics metrics.MetricsCollector

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// DefaultConfig returns a configuration for the "default" ledger.
func DefaultConfig() Config {
	return Config{
		LedgerID:      "default",
		Players:       []string{"Alice", "Bob", "Charlie", "Dana"},
		Awards:        awards.Canonical(),
		AutoProvision: true,
		Retry:         ledger.DefaultRetryPolicy(),
	}
}

// Store runs the two-step write protocol over a Backend.
type Store struct {
	backend Backend
	config  Config
	name    string
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// New creates a store over backend. The backend is owned by the store and
// closed with it.
func New(backend Backend, config Config) *Store {
	if config.LedgerID == "" {
		config.LedgerID = "default"
	}
	if config.Awards.Len() == 0 {
		config.Awards = awards.Canonical()
	}
	if config.Retry.Attempts == 0 {
		config.Retry = ledger.DefaultRetryPolicy()
	}
	if config.Clock == nil {
		config.Clock = ledger.SystemClock
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.Global()
	}

	name := "kv/" + backend.Name()
	return &Store{
		backend: backend,
		config:  config,
		name:    name,
		metrics: config.Metrics,
		logger:  config.Logger.Named("kv").ForLedger(name, config.LedgerID),
	}
}

// Name returns "kv/" followed by the driver name.
func (s *Store) Name() string {
	return s.name
}

// Provision creates the aggregate with the given roster unless it already exists.
func (s *Store) Provision(ctx context.Context, players []string) error {
	err := s.backend.CreateGame(ctx, s.config.LedgerID, NewGame(players))
	if ledger.IsConflict(err) {
		return nil
	}
	if err != nil {
		return ledger.WrapError(err, s.name, ledger.OpProvision)
	}
	s.logger.Info("ledger provisioned", zap.Int("players", len(players)))
	return nil
}

// loadGame reads the aggregate, provisioning it first if configured to.
func (s *Store) loadGame(ctx context.Context) (Game, error) {
	game, err := s.backend.LoadGame(ctx, s.config.LedgerID)
	if ledger.IsNotFound(err) && s.config.AutoProvision {
		if err := s.Provision(ctx, s.config.Players); err != nil {
			return Game{}, err
		}
		game, err = s.backend.LoadGame(ctx, s.config.LedgerID)
	}
	if err != nil {
		return Game{}, err
	}
	return game, nil
}

// GetNames returns the roster. An unprovisioned ledger still reports Pot.
func (s *Store) GetNames(ctx context.Context) ([]string, error) {
	game, err := s.loadGame(ctx)
	if ledger.IsNotFound(err) {
		return []string{ledger.Pot}, nil
	}
	if err != nil {
		return nil, ledger.WrapError(err, s.name, ledger.OpGetNames)
	}
	return game.Names(), nil
}

// GetBalances returns the aggregate sorted by name.
func (s *Store) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	game, err := s.loadGame(ctx)
	if err != nil {
		return nil, ledger.WrapError(err, s.name, ledger.OpGetBalances)
	}
	return ledger.BalancesFrom(game.Balances), nil
}

// GetLastNTransactions returns up to n recent transactions, oldest first.
func (s *Store) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	if n <= 0 {
		return []ledger.Transaction{}, nil
	}
	latest, err := s.backend.LatestTransactions(ctx, s.config.LedgerID, n)
	if err != nil {
		return nil, ledger.WrapError(err, s.name, ledger.OpGetLast)
	}
	return ledger.Chronological(latest, n), nil
}

// GetSplitAwards returns a copy of the award table.
func (s *Store) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.config.Awards.Map(), nil
}

// AddSplit records name paying one unit into the pot.
func (s *Store) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, ledger.OpAddSplit, func(pot decimal.Decimal) ledger.Transaction {
		return ledger.NewSplit(name, split, pot, s.config.Clock())
	})
}

// AddConversion records name cashing in the award for split.
func (s *Store) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	percent, err := ledger.LookupAward(s.config.Awards, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, ledger.OpAddConversion, func(pot decimal.Decimal) ledger.Transaction {
		return ledger.NewConversion(name, split, pot, percent, s.config.Clock())
	})
}

// errRetiredSeq reports an append that landed on a number the aggregate had
// already moved past. It is not a conflict so the swap loop does not retry it.
var errRetiredSeq = errors.New("sequence number already retired")

// record claims the next sequence number with a conditional put, then
// folds the transaction into the aggregate with a version swap. An append
// that raced an undo onto a freed number is withdrawn and claimed again.
func (s *Store) record(ctx context.Context, op string, build func(pot decimal.Decimal) ledger.Transaction) (ledger.Transaction, error) {
	attempts := s.config.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		tx, claimed, err := s.claim(ctx, op, build)
		if err != nil {
			return ledger.Transaction{}, ledger.WrapError(err, s.name, op)
		}

		err = s.applyAppended(ctx, tx, claimed)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, errRetiredSeq) {
			return tx, s.partial(op, tx, err)
		}

		s.metrics.RecordConflict(s.name, op)
		s.logger.Debug("append landed on a retired sequence number",
			logging.Operation(op),
			logging.Seq(tx.Seq),
			zap.Int("attempt", attempt),
		)
		if err := s.withdraw(ctx, tx); err != nil {
			return tx, s.partial(op, tx, err)
		}
	}

	err := fmt.Errorf("%w: gave up after %d attempts on retired sequence numbers", ledger.ErrConditionalWriteConflict, attempts)
	return ledger.Transaction{}, ledger.WrapError(err, s.name, op)
}

// claim stores a new transaction under the aggregate's NextSeq. It returns
// the aggregate the claim was based on.
func (s *Store) claim(ctx context.Context, op string, build func(pot decimal.Decimal) ledger.Transaction) (ledger.Transaction, Game, error) {
	var (
		tx           ledger.Transaction
		claimed      Game
		conflictedAt int64
	)

	err := s.config.Retry.Do(ctx, func(attempt int) error {
		game, err := s.loadGame(ctx)
		if err != nil {
			return err
		}

		claimed = game
		tx = build(game.Balances[ledger.Pot])
		tx.Seq = game.NextSeq

		err = s.backend.PutTransactionIfAbsent(ctx, s.config.LedgerID, tx)
		if !ledger.IsConflict(err) {
			return err
		}

		s.metrics.RecordConflict(s.name, op)
		s.logger.Debug("sequence already claimed",
			logging.Operation(op),
			logging.Seq(tx.Seq),
			zap.Int("attempt", attempt),
		)

		// A second conflict on the same seq means the aggregate is behind the log.
		if conflictedAt == tx.Seq {
			if _, rerr := s.Reconcile(ctx); rerr != nil {
				s.logger.Warn("reconcile after stalled append failed",
					logging.Operation(op),
					logging.Seq(tx.Seq),
					zap.Error(rerr),
				)
			}
		}
		conflictedAt = tx.Seq
		return err
	})
	return tx, claimed, err
}

// applyAppended folds an appended transaction into the aggregate. When the
// aggregate has already moved past tx.Seq, a reconcile since the claim means
// the log is refolded instead; with no reconcile the number was retired by
// an undo and errRetiredSeq is returned.
func (s *Store) applyAppended(ctx context.Context, tx ledger.Transaction, claimed Game) error {
	var refold bool
	err := s.config.Retry.Do(ctx, func(int) error {
		game, err := s.backend.LoadGame(ctx, s.config.LedgerID)
		if err != nil {
			return err
		}
		if game.NextSeq > tx.Seq {
			if game.Rebuilds > claimed.Rebuilds {
				refold = true
				return nil
			}
			return errRetiredSeq
		}

		next := game.next()
		tx.Apply(next.Balances)
		next.NextSeq = tx.Seq + 1
		next.Players = ledger.Roster(append(next.Players, tx.Creditor, tx.Debtor))

		err = s.backend.SwapGame(ctx, s.config.LedgerID, game.Version, next)
		if ledger.IsConflict(err) {
			s.metrics.RecordConflict(s.name, "apply")
		}
		return err
	})
	if err != nil || !refold {
		return err
	}
	_, err = s.Reconcile(ctx)
	return err
}

// withdraw deletes an append that landed on a retired number. If an undo
// removed it first, that undo reverted a transaction the aggregate never
// held, so the log is refolded.
func (s *Store) withdraw(ctx context.Context, tx ledger.Transaction) error {
	err := s.backend.DeleteTransaction(ctx, s.config.LedgerID, tx.Seq)
	if ledger.IsNotFound(err) {
		_, err = s.Reconcile(ctx)
	}
	return err
}

// partial reports a mutation whose log write landed while the aggregate
// update did not.
func (s *Store) partial(op string, tx ledger.Transaction, err error) error {
	s.metrics.RecordPartialFailure(s.name, op)
	s.logger.Error("aggregate update failed after log write",
		logging.Operation(op),
		logging.Seq(tx.Seq),
		zap.Error(err),
	)
	return ledger.WrapError(fmt.Errorf("%w: seq %d: %w", ledger.ErrPartialUpdate, tx.Seq, err), s.name, op)
}

// RemoveLastTransaction deletes the newest transaction and reverts it.
func (s *Store) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	op := ledger.OpRemoveLast

	var (
		removed ledger.Transaction
		seen    Game
	)
	err := s.config.Retry.Do(ctx, func(int) error {
		game, err := s.loadGame(ctx)
		if err != nil {
			return err
		}
		seen = game

		latest, err := s.backend.LatestTransactions(ctx, s.config.LedgerID, 1)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			return ledger.ErrEmptyLedger
		}
		removed = latest[0]

		err = s.backend.DeleteTransaction(ctx, s.config.LedgerID, removed.Seq)
		if ledger.IsNotFound(err) {
			s.metrics.RecordConflict(s.name, op)
			return fmt.Errorf("%w: seq %d removed concurrently", ledger.ErrConditionalWriteConflict, removed.Seq)
		}
		return err
	})
	if err != nil {
		return ledger.Transaction{}, ledger.WrapError(err, s.name, op)
	}

	if err := s.applyRemoved(ctx, removed, seen); err != nil {
		return removed, s.partial(op, removed, err)
	}

	return removed, nil
}

// applyRemoved reverts a deleted transaction from the aggregate. A
// transaction the aggregate never folded in only advances NextSeq, so the
// freed number is not handed out again. A reconcile since seen may already
// have dropped it, so the log is refolded instead of reverting twice.
func (s *Store) applyRemoved(ctx context.Context, tx ledger.Transaction, seen Game) error {
	var refold bool
	err := s.config.Retry.Do(ctx, func(int) error {
		game, err := s.backend.LoadGame(ctx, s.config.LedgerID)
		if err != nil {
			return err
		}
		if game.Rebuilds > seen.Rebuilds && game.NextSeq > tx.Seq {
			refold = true
			return nil
		}

		next := game.next()
		if game.NextSeq > tx.Seq {
			tx.Revert(next.Balances)
		} else {
			next.NextSeq = tx.Seq + 1
		}

		err = s.backend.SwapGame(ctx, s.config.LedgerID, game.Version, next)
		if ledger.IsConflict(err) {
			s.metrics.RecordConflict(s.name, "apply")
		}
		return err
	})
	if err != nil || !refold {
		return err
	}
	_, err = s.Reconcile(ctx)
	return err
}

// Reconcile folds the full log and rewrites the aggregate if it drifted.
func (s *Store) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	var report ledger.ReconcileReport

	err := s.config.Retry.Do(ctx, func(int) error {
		game, err := s.loadGame(ctx)
		if err != nil {
			return err
		}
		newest, err := s.backend.LatestTransactions(ctx, s.config.LedgerID, -1)
		if err != nil {
			return err
		}

		log := ledger.Chronological(newest, len(newest))
		folded := ledger.Fold(log, game.Names())
		nextSeq := game.NextSeq
		if len(log) > 0 && log[len(log)-1].Seq >= nextSeq {
			nextSeq = log[len(log)-1].Seq + 1
		}

		report = ledger.ReconcileReport{
			Before:       ledger.BalancesFrom(game.Balances),
			Transactions: len(log),
		}
		if ledger.Equal(folded, game.Balances) && nextSeq == game.NextSeq {
			report.After = report.Before
			return nil
		}

		next := game.next()
		next.Balances = folded
		next.NextSeq = nextSeq
		next.Rebuilds++
		next.Players = ledger.Roster(append(next.Players, keys(folded)...))
		if err := s.backend.SwapGame(ctx, s.config.LedgerID, game.Version, next); err != nil {
			return err
		}

		report.Drift = true
		report.After = ledger.BalancesFrom(folded)
		return nil
	})
	if err != nil {
		return ledger.ReconcileReport{}, ledger.WrapError(err, s.name, ledger.OpReconcile)
	}

	s.metrics.RecordReconcile(s.name, report.Drift)
	if report.Drift {
		s.logger.Warn("aggregate drift repaired",
			zap.Int("transactions", report.Transactions),
			zap.Any("before", report.Before),
			zap.Any("after", report.After),
		)
	}
	return report, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func keys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
