// Package activity records an audit trail of ledger mutations. Entries are
// written out of band by an asynchronous Writer so that a slow or failing
// sink never blocks a split, conversion or undo.
package activity

import (
	"context"
	"time"

	"pot-ledger/pkg/ledger"

	"github.com/google/uuid"
)

// Kind identifies the mutation an Entry describes.
type Kind string

const (
	KindSplit      Kind = "split"
	KindConversion Kind = "conversion"
	KindUndo       Kind = "undo"
)

// UndoPlaceholder fills the transaction fields of an undo entry.
const UndoPlaceholder = "Undo"

// Entry is one line of the activity log. Amounts are kept as text so an undo
// entry can carry the placeholder in every column.
type Entry struct {
	ID         string    `json:"id"`
	Ledger     string    `json:"ledger"`
	Kind       Kind      `json:"kind"`
	Seq        int64     `json:"seq"`
	Creditor   string    `json:"creditor"`
	Debtor     string    `json:"debtor"`
	Amount     string    `json:"amount"`
	Split      string    `json:"split"`
	Time       string    `json:"time"`
	PotAmount  string    `json:"pot_amount"`
	Date       string    `json:"date"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NewEntry describes an appended transaction.
func NewEntry(ledgerID string, kind Kind, tx ledger.Transaction, now time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Ledger:     ledgerID,
		Kind:       kind,
		Seq:        tx.Seq,
		Creditor:   tx.Creditor,
		Debtor:     tx.Debtor,
		Amount:     tx.Amount.StringFixed(2),
		Split:      tx.Split,
		Time:       tx.Time,
		PotAmount:  tx.PotAmount.StringFixed(2),
		Date:       tx.Date,
		RecordedAt: now.UTC(),
	}
}

// NewUndoEntry describes the removal of tx. Only the seq and the time of the
// undo itself are kept.
func NewUndoEntry(ledgerID string, removed ledger.Transaction, now time.Time) Entry {
	now = now.UTC()
	return Entry{
		ID:         uuid.NewString(),
		Ledger:     ledgerID,
		Kind:       KindUndo,
		Seq:        removed.Seq,
		Creditor:   UndoPlaceholder,
		Debtor:     UndoPlaceholder,
		Amount:     UndoPlaceholder,
		Split:      UndoPlaceholder,
		Time:       now.Format(ledger.TimeLayout),
		PotAmount:  UndoPlaceholder,
		Date:       now.Format(ledger.DateLayout),
		RecordedAt: now,
	}
}

// KindFor maps a mutating store operation to its entry kind.
func KindFor(op string) (Kind, bool) {
	switch op {
	case ledger.OpAddSplit:
		return KindSplit, true
	case ledger.OpAddConversion:
		return KindConversion, true
	case ledger.OpRemoveLast:
		return KindUndo, true
	default:
		return "", false
	}
}

// Sink persists activity entries.
type Sink interface {
	// Write stores a batch of entries in order.
	Write(ctx context.Context, entries []Entry) error

	// Name identifies the sink in logs and metrics.
	Name() string

	Close() error
}

// Reader is implemented by sinks and stores that can return recorded entries.
type Reader interface {
	// RecentActivity returns up to n of the newest entries, oldest first.
	RecentActivity(ctx context.Context, n int) ([]Entry, error)
}
