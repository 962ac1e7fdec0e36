package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAward(t *testing.T) {
	tests := []struct {
		name    string
		pot     string
		percent string
		want    string
	}{
		{"alice scenario", "1.00", "25", "0.25"},
		{"half rounds up", "0.10", "5", "0.01"},
		{"below half rounds down", "0.10", "4", "0"},
		{"fractional percent", "3", "7.5", "0.23"},
		{"whole pot", "12.34", "100", "12.34"},
		{"rounds to cent", "7", "30", "2.1"},
		{"negative pot rounds away from zero", "-0.10", "5", "-0.01"},
		{"empty pot", "0", "50", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Award(d(tt.pot), d(tt.percent))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Award(%s, %s) = %s, want %s", tt.pot, tt.percent, got, tt.want)
			}
		})
	}
}

func TestNewSplit(t *testing.T) {
	now := time.Date(2024, 3, 7, 21, 4, 5, 0, time.UTC)
	tx := NewSplit("Alice", "7-10", d("2.5"), now)

	if tx.Creditor != Pot || tx.Debtor != "Alice" {
		t.Errorf("Expected Pot <- Alice, got %s <- %s", tx.Creditor, tx.Debtor)
	}
	if !tx.Amount.Equal(SplitAmount) {
		t.Errorf("Expected amount 1, got %s", tx.Amount)
	}
	if !tx.PotAmount.Equal(d("2.5")) {
		t.Errorf("Expected pot amount 2.5, got %s", tx.PotAmount)
	}
	if tx.Time != "3/7/2024, 9:04:05 PM UTC" {
		t.Errorf("Unexpected time %q", tx.Time)
	}
	if tx.Date != "3/7/2024" {
		t.Errorf("Unexpected date %q", tx.Date)
	}
	if tx.Seq != 0 {
		t.Errorf("Expected unassigned seq, got %d", tx.Seq)
	}
}

func TestNewConversion_UsesUTC(t *testing.T) {
	loc := time.FixedZone("east", 10*3600)
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, loc)

	tx := NewConversion("Bob", "2-3", d("4"), d("50"), now)

	if tx.Creditor != "Bob" || tx.Debtor != Pot {
		t.Errorf("Expected Bob <- Pot, got %s <- %s", tx.Creditor, tx.Debtor)
	}
	if !tx.Amount.Equal(d("2")) {
		t.Errorf("Expected award 2, got %s", tx.Amount)
	}
	if tx.Date != "12/31/2023" {
		t.Errorf("Expected UTC date 12/31/2023, got %q", tx.Date)
	}
	if tx.Time != "12/31/2023, 10:00:00 PM UTC" {
		t.Errorf("Unexpected time %q", tx.Time)
	}
}

func TestApplyRevert(t *testing.T) {
	balances := map[string]decimal.Decimal{Pot: d("3"), "Alice": d("-3")}
	before := CopyBalances(balances)

	tx := Transaction{Creditor: "Alice", Debtor: Pot, Amount: d("0.75")}
	tx.Apply(balances)

	if !balances["Alice"].Equal(d("-2.25")) || !balances[Pot].Equal(d("2.25")) {
		t.Fatalf("Unexpected balances after apply: %v", balances)
	}

	tx.Revert(balances)
	if !Equal(balances, before) {
		t.Errorf("Revert did not restore balances: %v", balances)
	}
}

func TestFold(t *testing.T) {
	txns := []Transaction{
		{Seq: 1, Creditor: Pot, Debtor: "Alice", Amount: d("1")},
		{Seq: 2, Creditor: Pot, Debtor: "Bob", Amount: d("1")},
		{Seq: 3, Creditor: "Alice", Debtor: Pot, Amount: d("0.5")},
	}

	got := Fold(txns, []string{"Alice", "Bob", "Charlie"})

	want := map[string]string{
		Pot:       "1.50",
		"Alice":   "-0.50",
		"Bob":     "-1.00",
		"Charlie": "0.00",
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d names, got %v", len(want), got)
	}
	for name, amount := range want {
		if got[name].StringFixed(2) != amount {
			t.Errorf("%s: expected %s, got %s", name, amount, got[name].StringFixed(2))
		}
	}
}

func TestFold_EmptyLogHasPot(t *testing.T) {
	got := Fold(nil, nil)
	if _, ok := got[Pot]; !ok || len(got) != 1 {
		t.Errorf("Expected only Pot, got %v", got)
	}
}

func TestBalancesFrom_Sorted(t *testing.T) {
	got := BalancesFrom(map[string]decimal.Decimal{
		"Dana":  d("0"),
		Pot:     d("1"),
		"Alice": d("-1"),
	})

	want := []Balance{
		{Name: "Alice", Amount: "-1.00"},
		{Name: "Dana", Amount: "0.00"},
		{Name: Pot, Amount: "1.00"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestEqual(t *testing.T) {
	a := map[string]decimal.Decimal{Pot: d("1.0"), "Alice": d("-1")}
	b := map[string]decimal.Decimal{Pot: d("1"), "Alice": d("-1.00"), "Bob": d("0")}

	if !Equal(a, b) {
		t.Error("Expected aggregates equal when extra name is zero")
	}

	b["Bob"] = d("0.01")
	if Equal(a, b) {
		t.Error("Expected aggregates to differ")
	}
}

func TestRoster(t *testing.T) {
	got := Roster([]string{"Bob", " Alice ", "", "Bob", Pot})
	want := []string{"Alice", "Bob", Pot}

	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestChronological(t *testing.T) {
	newest := []Transaction{{Seq: 5}, {Seq: 4}, {Seq: 2}, {Seq: 1}}

	tests := []struct {
		n    int
		want []int64
	}{
		{0, []int64{}},
		{-1, []int64{}},
		{2, []int64{4, 5}},
		{4, []int64{1, 2, 4, 5}},
		{10, []int64{1, 2, 4, 5}},
	}

	for _, tt := range tests {
		got := Chronological(newest, tt.n)
		if got == nil {
			t.Errorf("n=%d: expected non-nil slice", tt.n)
		}
		if len(got) != len(tt.want) {
			t.Errorf("n=%d: expected %d entries, got %d", tt.n, len(tt.want), len(got))
			continue
		}
		for i, seq := range tt.want {
			if got[i].Seq != seq {
				t.Errorf("n=%d position %d: expected seq %d, got %d", tt.n, i, seq, got[i].Seq)
			}
		}
	}
}

func TestValidateMutation(t *testing.T) {
	tests := []struct {
		name    string
		player  string
		split   string
		want    string
		wantErr error
	}{
		{"valid", "Alice", "7-10", "Alice", nil},
		{"padded name", "  Alice\t", "7-10", "Alice", nil},
		{"empty name", "", "7-10", "", ErrInvalidName},
		{"blank name", "  ", "7-10", "", ErrInvalidName},
		{"pot", Pot, "7-10", "", ErrInvalidName},
		{"padded pot", " Pot ", "7-10", "", ErrInvalidName},
		{"descending split", "Alice", "10-7", "", ErrInvalidSplit},
		{"empty split", "Alice", "", "", ErrInvalidSplit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateMutation(tt.player, tt.split)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				if got != tt.want {
					t.Errorf("Expected name %q, got %q", tt.want, got)
				}
				return
			}
			if !errorsIs(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
