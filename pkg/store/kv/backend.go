// Package kv implements ledger.Store over a key-value medium that offers two
// conditional primitives: put-if-absent for transaction records and
// compare-and-swap on a versioned aggregate record.
package kv

import (
	"context"

	"pot-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/backend.go -package=mocks pot-ledger/pkg/store/kv Backend

// Backend defines the primitives a key-value driver must provide.
// Records are scoped by ledger id. Conditional failures are reported as
// ledger.ErrConditionalWriteConflict, missing records as ledger.ErrNotFound.
type Backend interface {
	// Name returns the driver identifier (e.g. "redis", "leveldb").
	Name() string

	// LoadGame reads the aggregate record of a ledger.
	LoadGame(ctx context.Context, ledgerID string) (Game, error)

	// CreateGame stores the aggregate record only if none exists.
	CreateGame(ctx context.Context, ledgerID string, game Game) error

	// SwapGame replaces the aggregate record only if its stored version equals expected.
	SwapGame(ctx context.Context, ledgerID string, expected int64, game Game) error

	// PutTransactionIfAbsent stores tx under (ledgerID, tx.Seq) only if that key is free.
	PutTransactionIfAbsent(ctx context.Context, ledgerID string, tx ledger.Transaction) error

	// DeleteTransaction removes the transaction with the given seq.
	DeleteTransaction(ctx context.Context, ledgerID string, seq int64) error

	// LatestTransactions returns up to n transactions, newest first. n < 0 returns all.
	LatestTransactions(ctx context.Context, ledgerID string, n int) ([]ledger.Transaction, error)

	// Close releases the driver's client.
	Close() error
}

// Game is the aggregate record of one ledger.
type Game struct {
	// Players is the roster, Pot included.
	Players []string `json:"players"`

	// Balances is the incrementally maintained fold of the log.
	Balances map[string]decimal.Decimal `json:"balances"`

	// NextSeq is the sequence number the next append will claim.
	NextSeq int64 `json:"next_seq"`

	// Version increments on every swap.
	Version int64 `json:"version"`

	// Rebuilds counts reconciliations that rewrote the aggregate.
	Rebuilds int64 `json:"rebuilds"`
}

// NewGame returns the aggregate of an empty ledger.
func NewGame(players []string) Game {
	roster := ledger.Roster(players)
	return Game{
		Players:  roster,
		Balances: ledger.Fold(nil, roster),
		NextSeq:  1,
		Version:  1,
	}
}

// Clone returns a deep copy.
func (g Game) Clone() Game {
	c := g
	c.Players = append([]string(nil), g.Players...)
	c.Balances = ledger.CopyBalances(g.Balances)
	return c
}

// Names returns every participant the aggregate knows about.
func (g Game) Names() []string {
	names := append([]string(nil), g.Players...)
	for name := range g.Balances {
		names = append(names, name)
	}
	return ledger.Roster(names)
}

// next returns the successor record for a swap: a copy with Version bumped.
func (g Game) next() Game {
	c := g.Clone()
	c.Version = g.Version + 1
	return c
}
