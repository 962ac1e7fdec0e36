// Package rows is a ledger backend on PostgreSQL laid out as spreadsheet
// tabs: summary, transactions, metadata, activity and split awards. Every
// mutation is one SQL transaction that locks the ledger's metadata row, so
// the log and the summary cannot diverge.
package rows

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"pot-ledger/pkg/activity"
	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds configuration for the row store.
type Config struct {
	// DSN is a lib/pq connection string.
	DSN string

	LedgerID string

	// Players is the roster used when the ledger is provisioned.
	Players []string

	// Awards seeds the ledger's split_awards rows at provisioning.
	Awards awards.Table

	AutoProvision bool
	Retry         ledger.RetryPolicy
	Clock         ledger.Clock
	Metrics       metrics.MetricsCollector
	Logger        *logging.Logger

	// Pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		DSN:             "host=localhost port=5432 user=postgres password=postgres dbname=pot_ledger sslmode=disable",
		LedgerID:        "default",
		Players:         []string{"Alice", "Bob", "Charlie", "Dana"},
		Awards:          awards.Canonical(),
		AutoProvision:   true,
		Retry:           ledger.DefaultRetryPolicy(),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store implements ledger.Store on PostgreSQL.
type Store struct {
	db      *sql.DB
	config  Config
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	provisioned atomic.Bool
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.Provisioner = (*Store)(nil)
	_ activity.Reader    = (*Store)(nil)
)

// Open connects to PostgreSQL, verifies the connection and creates the tables.
func Open(config Config) (*Store, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("rows: no DSN configured")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("rows: failed to open postgres connection: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: rows: failed to ping postgres: %v", ledger.ErrBackendUnavailable, err)
	}

	s, err := New(ctx, db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New creates a store over an open database and creates the tables. The
// store owns db and closes it.
func New(ctx context.Context, db *sql.DB, config Config) (*Store, error) {
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

	s := &Store{
		db:      db,
		config:  config,
		metrics: config.Metrics,
		logger:  config.Logger.Named("rows").ForLedger("rows", config.LedgerID),
	}
	if err := s.initTables(ctx); err != nil {
		return nil, fmt.Errorf("rows: failed to init tables: %w", mapErr(err))
	}
	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	for _, query := range schema {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Name returns "rows".
func (s *Store) Name() string {
	return "rows"
}

// Close closes the database pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func mapErr(err error) error {
	var (
		pqErr  *pq.Error
		netErr net.Error
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ledger.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &pqErr):
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "23505":
			// serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%w: postgres %s: %v", ledger.ErrConditionalWriteConflict, pqErr.Code.Name(), err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: postgres %s: %v", ledger.ErrBackendUnavailable, pqErr.Code.Name(), err)
		}
		return fmt.Errorf("postgres %s: %w", pqErr.Code.Name(), err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		return fmt.Errorf("%w: postgres: %v", ledger.ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("postgres: %w", err)
	}
}

// withTx runs fn in a transaction and commits it if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return mapErr(tx.Commit())
}

// Provision creates the ledger's rows unless its metadata row exists.
func (s *Store) Provision(ctx context.Context, players []string) error {
	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_metadata (ledger_id) VALUES ($1) ON CONFLICT (ledger_id) DO NOTHING`,
			s.config.LedgerID)
		if err != nil {
			return mapErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		created = true

		for _, name := range ledger.Roster(players) {
			if err := s.join(ctx, tx, name); err != nil {
				return err
			}
		}
		return s.seedAwards(ctx, tx)
	})
	if err != nil {
		return ledger.WrapError(err, s.Name(), ledger.OpProvision)
	}

	s.provisioned.Store(true)
	if created {
		s.logger.Info("ledger provisioned", zap.Int("players", len(players)), zap.Int("awards", s.config.Awards.Len()))
	}
	return nil
}

// seedAwards bulk-loads the award table with COPY.
func (s *Store) seedAwards(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM split_awards WHERE ledger_id = $1`, s.config.LedgerID); err != nil {
		return mapErr(err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("split_awards", "ledger_id", "split", "percent"))
	if err != nil {
		return mapErr(err)
	}
	defer stmt.Close()

	for _, split := range s.config.Awards.Splits() {
		percent, _ := s.config.Awards.Lookup(split)
		if _, err := stmt.ExecContext(ctx, s.config.LedgerID, split, percent); err != nil {
			return mapErr(err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (s *Store) ensureProvisioned(ctx context.Context) error {
	if !s.config.AutoProvision || s.provisioned.Load() {
		return nil
	}
	return s.Provision(ctx, s.config.Players)
}

// join adds name to the roster and the summary at zero, if absent.
func (s *Store) join(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_players (ledger_id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		s.config.LedgerID, name); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_summary (ledger_id, name, balance) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING`,
		s.config.LedgerID, name); err != nil {
		return mapErr(err)
	}
	return nil
}

// GetNames returns the roster. An unprovisioned ledger still reports Pot.
func (s *Store) GetNames(ctx context.Context) ([]string, error) {
	if err := s.ensureProvisioned(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM ledger_players WHERE ledger_id = $1`, s.config.LedgerID)
	if err != nil {
		return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetNames)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetNames)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetNames)
	}
	return ledger.Roster(names), nil
}

// GetBalances returns the summary rows sorted by name.
func (s *Store) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	if err := s.ensureProvisioned(ctx); err != nil {
		return nil, err
	}

	balances, err := s.summary(ctx, s.db)
	if err != nil {
		return nil, ledger.WrapError(err, s.Name(), ledger.OpGetBalances)
	}
	if len(balances) == 0 {
		return nil, ledger.WrapError(fmt.Errorf("%w: ledger %s not provisioned", ledger.ErrNotFound, s.config.LedgerID), s.Name(), ledger.OpGetBalances)
	}
	return ledger.BalancesFrom(balances), nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) summary(ctx context.Context, q querier) (map[string]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, balance FROM ledger_summary WHERE ledger_id = $1`, s.config.LedgerID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			name   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&name, &amount); err != nil {
			return nil, mapErr(err)
		}
		balances[name] = amount
	}
	return balances, mapErr(rows.Err())
}

const transactionColumns = `seq, creditor, debtor, amount, split, time_text, pot_amount, date_text`

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.Seq, &t.Creditor, &t.Debtor, &t.Amount, &t.Split, &t.Time, &t.PotAmount, &t.Date); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err())
}

// GetLastNTransactions returns up to n recent transactions, oldest first.
func (s *Store) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	if n <= 0 {
		return []ledger.Transaction{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM ledger_transactions WHERE ledger_id = $1 ORDER BY seq DESC LIMIT $2`,
		s.config.LedgerID, n)
	if err != nil {
		return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetLast)
	}
	newest, err := scanTransactions(rows)
	if err != nil {
		return nil, ledger.WrapError(err, s.Name(), ledger.OpGetLast)
	}
	return ledger.Chronological(newest, n), nil
}

// GetSplitAwards returns the ledger's award rows. A ledger without rows
// reports the configured table.
func (s *Store) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	if err := s.ensureProvisioned(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT split, percent FROM split_awards WHERE ledger_id = $1`, s.config.LedgerID)
	if err != nil {
		return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetSplitAwards)
	}
	defer rows.Close()

	table := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			split   string
			percent decimal.Decimal
		)
		if err := rows.Scan(&split, &percent); err != nil {
			return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetSplitAwards)
		}
		table[split] = percent
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.WrapError(mapErr(err), s.Name(), ledger.OpGetSplitAwards)
	}
	if len(table) == 0 {
		return s.config.Awards.Map(), nil
	}
	return table, nil
}

// AddSplit records name paying one unit into the pot.
func (s *Store) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, ledger.OpAddSplit, activity.KindSplit, func(tx *sql.Tx, pot decimal.Decimal) (ledger.Transaction, error) {
		return ledger.NewSplit(name, split, pot, s.config.Clock()), nil
	})
}

// AddConversion records name cashing in the award for split. The percent is
// read from the ledger's split_awards rows in the same transaction.
func (s *Store) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	name, err := ledger.ValidateMutation(name, split)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, ledger.OpAddConversion, activity.KindConversion, func(tx *sql.Tx, pot decimal.Decimal) (ledger.Transaction, error) {
		var percent decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`SELECT percent FROM split_awards WHERE ledger_id = $1 AND split = $2`,
			s.config.LedgerID, split).Scan(&percent)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, fmt.Errorf("%w: %q has no award", ledger.ErrInvalidSplit, split)
		}
		if err != nil {
			return ledger.Transaction{}, mapErr(err)
		}
		return ledger.NewConversion(name, split, pot, percent, s.config.Clock()), nil
	})
}

type metadata struct {
	nextSeq int64
	count   int64
}

// lockMetadata reads the ledger's metadata row and holds its lock until tx ends.
func (s *Store) lockMetadata(ctx context.Context, tx *sql.Tx) (metadata, error) {
	var m metadata
	err := tx.QueryRowContext(ctx,
		`SELECT next_seq, transaction_count FROM ledger_metadata WHERE ledger_id = $1 FOR UPDATE`,
		s.config.LedgerID).Scan(&m.nextSeq, &m.count)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("%w: ledger %s not provisioned", ledger.ErrNotFound, s.config.LedgerID)
	}
	return m, mapErr(err)
}

// adjust adds delta to name's summary row, creating it if needed.
func (s *Store) adjust(ctx context.Context, tx *sql.Tx, name string, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_summary (ledger_id, name, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (ledger_id, name) DO UPDATE SET balance = ledger_summary.balance + EXCLUDED.balance`,
		s.config.LedgerID, name, delta)
	return mapErr(err)
}

func (s *Store) insertActivity(ctx context.Context, tx *sql.Tx, e activity.Entry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_activity (id, ledger_id, kind, seq, creditor, debtor, amount, split, time_text, pot_amount, date_text, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Ledger, string(e.Kind), e.Seq, e.Creditor, e.Debtor, e.Amount, e.Split, e.Time, e.PotAmount, e.Date, e.RecordedAt)
	return mapErr(err)
}

// record appends the built transaction, folds it into the summary, advances
// the metadata and logs the activity, all in one SQL transaction.
func (s *Store) record(ctx context.Context, op string, kind activity.Kind, build func(tx *sql.Tx, pot decimal.Decimal) (ledger.Transaction, error)) (ledger.Transaction, error) {
	if err := s.ensureProvisioned(ctx); err != nil {
		return ledger.Transaction{}, err
	}

	var (
		out     ledger.Transaction
		stalled bool
	)
	err := s.config.Retry.Do(ctx, func(attempt int) error {
		if stalled {
			// The metadata is behind the log; move next_seq past it first.
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.Warn("reconcile after stalled append failed", logging.Operation(op), zap.Error(err))
			}
			stalled = false
		}

		return s.withTx(ctx, func(tx *sql.Tx) error {
			meta, err := s.lockMetadata(ctx, tx)
			if err != nil {
				return err
			}

			var pot decimal.Decimal
			err = tx.QueryRowContext(ctx,
				`SELECT balance FROM ledger_summary WHERE ledger_id = $1 AND name = $2`,
				s.config.LedgerID, ledger.Pot).Scan(&pot)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return mapErr(err)
			}

			t, err := build(tx, pot)
			if err != nil {
				return err
			}
			t.Seq = meta.nextSeq

			res, err := tx.ExecContext(ctx,
				`INSERT INTO ledger_transactions (ledger_id, `+transactionColumns+`)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (ledger_id, seq) DO NOTHING`,
				s.config.LedgerID, t.Seq, t.Creditor, t.Debtor, t.Amount, t.Split, t.Time, t.PotAmount, t.Date)
			if err != nil {
				return mapErr(err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				stalled = true
				s.metrics.RecordConflict(s.Name(), op)
				s.logger.Debug("sequence already claimed",
					logging.Operation(op),
					logging.Seq(t.Seq),
					zap.Int("attempt", attempt),
				)
				return fmt.Errorf("%w: seq %d taken", ledger.ErrConditionalWriteConflict, t.Seq)
			}

			for _, name := range []string{t.Creditor, t.Debtor} {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO ledger_players (ledger_id, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
					s.config.LedgerID, name); err != nil {
					return mapErr(err)
				}
			}
			if err := s.adjust(ctx, tx, t.Creditor, t.Amount); err != nil {
				return err
			}
			if err := s.adjust(ctx, tx, t.Debtor, t.Amount.Neg()); err != nil {
				return err
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE ledger_metadata SET next_seq = $2, transaction_count = transaction_count + 1 WHERE ledger_id = $1`,
				s.config.LedgerID, t.Seq+1); err != nil {
				return mapErr(err)
			}

			if err := s.insertActivity(ctx, tx, activity.NewEntry(s.config.LedgerID, kind, t, s.config.Clock())); err != nil {
				return err
			}

			out = t
			return nil
		})
	})
	if err != nil {
		return ledger.Transaction{}, ledger.WrapError(err, s.Name(), op)
	}
	return out, nil
}

// RemoveLastTransaction deletes the newest transaction and reverts it in the
// same SQL transaction. next_seq is left alone.
func (s *Store) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	op := ledger.OpRemoveLast
	if err := s.ensureProvisioned(ctx); err != nil {
		return ledger.Transaction{}, err
	}

	var removed ledger.Transaction
	err := s.config.Retry.Do(ctx, func(int) error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := s.lockMetadata(ctx, tx); err != nil {
				return err
			}

			rows, err := tx.QueryContext(ctx,
				`SELECT `+transactionColumns+` FROM ledger_transactions WHERE ledger_id = $1 ORDER BY seq DESC LIMIT 1`,
				s.config.LedgerID)
			if err != nil {
				return mapErr(err)
			}
			latest, err := scanTransactions(rows)
			if err != nil {
				return err
			}
			if len(latest) == 0 {
				return ledger.ErrEmptyLedger
			}
			t := latest[0]

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM ledger_transactions WHERE ledger_id = $1 AND seq = $2`,
				s.config.LedgerID, t.Seq); err != nil {
				return mapErr(err)
			}
			if err := s.adjust(ctx, tx, t.Creditor, t.Amount.Neg()); err != nil {
				return err
			}
			if err := s.adjust(ctx, tx, t.Debtor, t.Amount); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE ledger_metadata SET transaction_count = transaction_count - 1 WHERE ledger_id = $1`,
				s.config.LedgerID); err != nil {
				return mapErr(err)
			}
			if err := s.insertActivity(ctx, tx, activity.NewUndoEntry(s.config.LedgerID, t, s.config.Clock())); err != nil {
				return err
			}

			removed = t
			return nil
		})
	})
	if err != nil {
		return ledger.Transaction{}, ledger.WrapError(err, s.Name(), op)
	}
	return removed, nil
}

// Reconcile folds the full log under the metadata lock and rewrites the
// summary if it drifted.
func (s *Store) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	if err := s.ensureProvisioned(ctx); err != nil {
		return ledger.ReconcileReport{}, err
	}

	var report ledger.ReconcileReport
	err := s.config.Retry.Do(ctx, func(int) error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			meta, err := s.lockMetadata(ctx, tx)
			if err != nil {
				return err
			}
			stored, err := s.summary(ctx, tx)
			if err != nil {
				return err
			}

			rows, err := tx.QueryContext(ctx,
				`SELECT `+transactionColumns+` FROM ledger_transactions WHERE ledger_id = $1 ORDER BY seq ASC`,
				s.config.LedgerID)
			if err != nil {
				return mapErr(err)
			}
			log, err := scanTransactions(rows)
			if err != nil {
				return err
			}

			folded := ledger.Fold(log, keys(stored))
			nextSeq := meta.nextSeq
			if len(log) > 0 && log[len(log)-1].Seq >= nextSeq {
				nextSeq = log[len(log)-1].Seq + 1
			}

			report = ledger.ReconcileReport{
				Before:       ledger.BalancesFrom(stored),
				Transactions: len(log),
			}
			if ledger.Equal(folded, stored) && nextSeq == meta.nextSeq && meta.count == int64(len(log)) {
				report.After = report.Before
				return nil
			}

			for name, amount := range folded {
				if err := s.join(ctx, tx, name); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE ledger_summary SET balance = $3 WHERE ledger_id = $1 AND name = $2`,
					s.config.LedgerID, name, amount); err != nil {
					return mapErr(err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE ledger_metadata SET next_seq = $2, transaction_count = $3, rebuilds = rebuilds + 1 WHERE ledger_id = $1`,
				s.config.LedgerID, nextSeq, len(log)); err != nil {
				return mapErr(err)
			}

			report.Drift = true
			report.After = ledger.BalancesFrom(folded)
			return nil
		})
	})
	if err != nil {
		return ledger.ReconcileReport{}, ledger.WrapError(err, s.Name(), ledger.OpReconcile)
	}

	s.metrics.RecordReconcile(s.Name(), report.Drift)
	if report.Drift {
		s.logger.Warn("summary drift repaired",
			zap.Int("transactions", report.Transactions),
			zap.Any("before", report.Before),
			zap.Any("after", report.After),
		)
	}
	return report, nil
}

// RecentActivity returns up to n of the newest activity rows, oldest first.
func (s *Store) RecentActivity(ctx context.Context, n int) ([]activity.Entry, error) {
	if n <= 0 {
		return []activity.Entry{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ledger_id, kind, seq, creditor, debtor, amount, split, time_text, pot_amount, date_text, recorded_at
		 FROM ledger_activity WHERE ledger_id = $1 ORDER BY position DESC LIMIT $2`,
		s.config.LedgerID, n)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var newest []activity.Entry
	for rows.Next() {
		var (
			e    activity.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.Ledger, &kind, &e.Seq, &e.Creditor, &e.Debtor, &e.Amount, &e.Split, &e.Time, &e.PotAmount, &e.Date, &e.RecordedAt); err != nil {
			return nil, mapErr(err)
		}
		e.Kind = activity.Kind(kind)
		e.RecordedAt = e.RecordedAt.UTC()
		newest = append(newest, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	out := make([]activity.Entry, len(newest))
	for i, e := range newest {
		out[len(newest)-1-i] = e
	}
	return out, nil
}

func keys(m map[string]decimal.Decimal) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
