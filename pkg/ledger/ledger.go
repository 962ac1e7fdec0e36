package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Pot is the reserved participant that holds the shared pool.
const Pot = "Pot"

// Timestamp layouts used for Transaction.Time and Transaction.Date.
const (
	TimeLayout = "1/2/2006, 3:04:05 PM UTC"
	DateLayout = "1/2/2006"
)

// SplitAmount is the fixed contribution a split moves from a player to the pot.
var SplitAmount = decimal.NewFromInt(1)

var hundred = decimal.NewFromInt(100)

// Transaction is one immutable entry in a ledger's log.
// Direction is carried by the Creditor/Debtor roles; Amount is always positive.
type Transaction struct {
	// Seq is the transaction's sequence number within its ledger.
	Seq int64 `json:"seq"`

	// Creditor receives Amount.
	Creditor string `json:"creditor"`

	// Debtor gives Amount.
	Debtor string `json:"debtor"`

	Amount decimal.Decimal `json:"amount"`

	// Split is the split identifier that triggered this transaction.
	Split string `json:"split"`

	// Time is the recording timestamp, formatted with TimeLayout.
	Time string `json:"time"`

	// PotAmount is the pot balance immediately before this transaction applied.
	PotAmount decimal.Decimal `json:"pot_amount"`

	// Date is the recording date, formatted with DateLayout.
	Date string `json:"date"`
}

// Balance is a participant's net position, formatted with two decimals.
type Balance struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

// Apply adds the transaction's effect to balances in place.
func (t Transaction) Apply(balances map[string]decimal.Decimal) {
	balances[t.Creditor] = balances[t.Creditor].Add(t.Amount)
	balances[t.Debtor] = balances[t.Debtor].Sub(t.Amount)
}

// Revert removes the transaction's effect from balances in place.
func (t Transaction) Revert(balances map[string]decimal.Decimal) {
	balances[t.Creditor] = balances[t.Creditor].Sub(t.Amount)
	balances[t.Debtor] = balances[t.Debtor].Add(t.Amount)
}

// NewSplit builds the transaction for a player contributing to the pot.
// Seq is left zero for the store to assign.
func NewSplit(name, split string, potBefore decimal.Decimal, now time.Time) Transaction {
	return stamp(Transaction{
		Creditor:  Pot,
		Debtor:    name,
		Amount:    SplitAmount,
		Split:     split,
		PotAmount: potBefore,
	}, now)
}

// NewConversion builds the transaction for a player cashing in percent of the pot.
func NewConversion(name, split string, potBefore, percent decimal.Decimal, now time.Time) Transaction {
	return stamp(Transaction{
		Creditor:  name,
		Debtor:    Pot,
		Amount:    Award(potBefore, percent),
		Split:     split,
		PotAmount: potBefore,
	}, now)
}

func stamp(t Transaction, now time.Time) Transaction {
	now = now.UTC()
	t.Time = now.Format(TimeLayout)
	t.Date = now.Format(DateLayout)
	return t
}

// Award returns round(pot * percent) / 100, rounding half away from zero.
func Award(pot, percent decimal.Decimal) decimal.Decimal {
	return pot.Mul(percent).Round(0).Div(hundred)
}

// Fold recomputes balances from a log. Every roster name starts at zero,
// and Pot is always present.
func Fold(txns []Transaction, roster []string) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal, len(roster)+1)
	balances[Pot] = decimal.Zero
	for _, name := range roster {
		balances[name] = decimal.Zero
	}
	for _, t := range txns {
		t.Apply(balances)
	}
	return balances
}

// BalancesFrom formats an aggregate as a name-sorted Balance list.
func BalancesFrom(balances map[string]decimal.Decimal) []Balance {
	out := make([]Balance, 0, len(balances))
	for name, amount := range balances {
		out = append(out, Balance{Name: name, Amount: amount.StringFixed(2)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Equal reports whether two aggregates hold the same amounts. A name missing
// from one side counts as zero.
func Equal(a, b map[string]decimal.Decimal) bool {
	for name, v := range a {
		if !v.Equal(b[name]) {
			return false
		}
	}
	for name, v := range b {
		if _, ok := a[name]; !ok && !v.IsZero() {
			return false
		}
	}
	return true
}

// CopyBalances returns an independent copy of an aggregate.
func CopyBalances(balances map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(balances))
	for k, v := range balances {
		out[k] = v
	}
	return out
}

// Roster returns the deduplicated, sorted names with Pot included.
func Roster(players []string) []string {
	seen := map[string]bool{Pot: true}
	out := []string{Pot}
	for _, p := range players {
		p = NormalizeName(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Chronological returns the n most recent entries of a newest-first slice,
// oldest first. n <= 0 yields an empty slice.
func Chronological(newestFirst []Transaction, n int) []Transaction {
	if n <= 0 {
		return []Transaction{}
	}
	if n > len(newestFirst) {
		n = len(newestFirst)
	}
	out := make([]Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = newestFirst[n-1-i]
	}
	return out
}
