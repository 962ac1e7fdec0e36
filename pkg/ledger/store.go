package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pot-ledger/pkg/awards"

	"github.com/shopspring/decimal"
)

// Store defines the contract every ledger backend must satisfy.
// All operations act on the single ledger the store was opened for.
type Store interface {
	// GetNames returns every known participant. Pot is always included.
	GetNames(ctx context.Context) ([]string, error)

	// GetBalances returns the current balance of every known participant,
	// sorted by name. It reflects every write that returned before the call.
	GetBalances(ctx context.Context) ([]Balance, error)

	// GetLastNTransactions returns up to n of the most recent transactions,
	// oldest first. n <= 0 returns an empty slice.
	GetLastNTransactions(ctx context.Context, n int) ([]Transaction, error)

	// RemoveLastTransaction deletes the highest-seq transaction and reverses its
	// effect on the aggregate. It returns ErrEmptyLedger when there is nothing to undo.
	RemoveLastTransaction(ctx context.Context) (Transaction, error)

	// AddSplit records name paying one unit into the pot for split.
	AddSplit(ctx context.Context, name, split string) (Transaction, error)

	// AddConversion records name receiving the award for split out of the pot.
	// ErrInvalidSplit is returned, and nothing appended, if split has no award.
	AddConversion(ctx context.Context, name, split string) (Transaction, error)

	// GetSplitAwards returns a copy of the split -> percent table.
	GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error)

	// Reconcile folds the full log and rewrites the aggregate if it drifted.
	Reconcile(ctx context.Context) (ReconcileReport, error)

	// Name returns the backend identifier (e.g. "memory", "kv/redis", "rows").
	// Used for logging and metrics.
	Name() string

	// Close releases any resources held by the store.
	Close() error
}

// Operation names used in logs, metrics and wrapped errors.
const (
	OpGetNames       = "get_names"
	OpGetBalances    = "get_balances"
	OpGetLast        = "get_last_n_transactions"
	OpRemoveLast     = "remove_last_transaction"
	OpAddSplit       = "add_split"
	OpAddConversion  = "add_conversion"
	OpGetSplitAwards = "get_split_awards"
	OpReconcile      = "reconcile"
	OpProvision      = "provision"
)

// Provisioner is implemented by stores whose ledger must be created before use.
// Provision is idempotent: an existing ledger is left untouched.
type Provisioner interface {
	Provision(ctx context.Context, players []string) error
}

// ReconcileReport describes one reconciliation pass.
type ReconcileReport struct {
	// Drift is true when the stored aggregate disagreed with the fold.
	Drift bool `json:"drift"`

	// Before is the aggregate as stored when the pass started.
	Before []Balance `json:"before"`

	// After is the aggregate as stored when the pass finished.
	After []Balance `json:"after"`

	// Transactions is the number of log entries folded.
	Transactions int `json:"transactions"`
}

// Clock supplies transaction timestamps.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time {
	return time.Now()
}

// ValidateName rejects an empty name or the reserved Pot. It expects a name
// already trimmed by NormalizeName.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == Pot {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, Pot)
	}
	return nil
}

// ValidateSplit rejects a malformed split identifier.
func ValidateSplit(split string) error {
	if err := awards.ValidateSplit(split); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSplit, err)
	}
	return nil
}

// NormalizeName returns the form a player name is stored under.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateMutation runs the checks shared by AddSplit and AddConversion and
// returns the normalized name the mutation must record.
func ValidateMutation(name, split string) (string, error) {
	name = NormalizeName(name)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, ValidateSplit(split)
}

// LookupAward returns the percent for split or an ErrInvalidSplit error.
func LookupAward(table awards.Table, split string) (decimal.Decimal, error) {
	percent, ok := table.Lookup(split)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q has no award", ErrInvalidSplit, split)
	}
	return percent, nil
}
