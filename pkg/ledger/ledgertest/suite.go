// Package ledgertest holds a conformance suite every ledger.Store backend runs,
// plus a hook-driven fake for testing code that consumes a Store.
package ledgertest

import (
	"context"
	"sync"
	"testing"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Players is the roster the suite expects every fresh store to be opened with.
var Players = []string{"Alice", "Bob", "Charlie", "Dana"}

// Factory opens a fresh, empty ledger provisioned with Players and the demo
// award table. The suite closes the store when the subtest ends.
type Factory func(t *testing.T) ledger.Store

// everything is a count larger than any log the suite builds.
const everything = 1 << 20

// RunStoreSuite runs the backend-independent contract checks against newStore.
func RunStoreSuite(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, s ledger.Store)
	}{
		{"NamesIncludePot", testNamesIncludePot},
		{"BalancesCoverNames", testBalancesCoverNames},
		{"AliceScenario", testAliceScenario},
		{"FoldInvariant", testFoldInvariant},
		{"SequenceMonotonic", testSequenceMonotonic},
		{"Ordering", testOrdering},
		{"UndoInverse", testUndoInverse},
		{"UndoLeavesHole", testUndoLeavesHole},
		{"UndoEmpty", testUndoEmpty},
		{"InvalidSplit", testInvalidSplit},
		{"InvalidName", testInvalidName},
		{"SplitAwards", testSplitAwards},
		{"ReconcileConsistent", testReconcileConsistent},
		{"ConcurrentSplits", testConcurrentSplits},
		{"ConcurrentSplitsAndUndos", testConcurrentSplitsAndUndos},
		{"PaddedNameIsTrimmed", testPaddedNameIsTrimmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.run(t, s)
		})
	}
}

func balanceMap(t *testing.T, s ledger.Store) map[string]string {
	t.Helper()
	balances, err := s.GetBalances(context.Background())
	require.NoError(t, err)

	out := make(map[string]string, len(balances))
	for _, b := range balances {
		out[b.Name] = b.Amount
	}
	return out
}

func allTransactions(t *testing.T, s ledger.Store) []ledger.Transaction {
	t.Helper()
	txns, err := s.GetLastNTransactions(context.Background(), everything)
	require.NoError(t, err)
	return txns
}

func testNamesIncludePot(t *testing.T, s ledger.Store) {
	names, err := s.GetNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, ledger.Pot)
	for _, p := range Players {
		assert.Contains(t, names, p)
	}
}

func testBalancesCoverNames(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.AddSplit(ctx, "Alice", "2-3")
	require.NoError(t, err)

	names, err := s.GetNames(ctx)
	require.NoError(t, err)
	balances, err := s.GetBalances(ctx)
	require.NoError(t, err)

	got := make([]string, 0, len(balances))
	for i, b := range balances {
		got = append(got, b.Name)
		if i > 0 {
			assert.Less(t, balances[i-1].Name, b.Name, "balances must be sorted by name")
		}
	}
	assert.ElementsMatch(t, names, got)
}

func testAliceScenario(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	split, err := s.AddSplit(ctx, "Alice", "7-10")
	require.NoError(t, err)
	assert.Equal(t, ledger.Pot, split.Creditor)
	assert.Equal(t, "Alice", split.Debtor)
	assert.True(t, split.Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, split.PotAmount.IsZero(), "pot before first split is zero")

	b := balanceMap(t, s)
	assert.Equal(t, "-1.00", b["Alice"])
	assert.Equal(t, "1.00", b[ledger.Pot])

	conv, err := s.AddConversion(ctx, "Alice", "7-10")
	require.NoError(t, err)
	assert.Equal(t, "Alice", conv.Creditor)
	assert.Equal(t, ledger.Pot, conv.Debtor)
	assert.Equal(t, "0.25", conv.Amount.StringFixed(2))
	assert.Equal(t, "1.00", conv.PotAmount.StringFixed(2))

	b = balanceMap(t, s)
	assert.Equal(t, "-0.75", b["Alice"])
	assert.Equal(t, "0.75", b[ledger.Pot])

	removed, err := s.RemoveLastTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, conv.Seq, removed.Seq)
	assert.Equal(t, conv.Split, removed.Split)

	b = balanceMap(t, s)
	assert.Equal(t, "-1.00", b["Alice"])
	assert.Equal(t, "1.00", b[ledger.Pot])
}

func testFoldInvariant(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	ops := []struct {
		convert bool
		name    string
		split   string
	}{
		{false, "Alice", "7-10"},
		{false, "Bob", "2-3"},
		{false, "Charlie", "4-5"},
		{true, "Dana", "4-7-10"},
		{false, "Alice", "5-6"},
		{true, "Bob", "1-2-3"},
		{false, "Dana", "3-6"},
		{true, "Charlie", "6-7-10"},
	}
	for _, op := range ops {
		var err error
		if op.convert {
			_, err = s.AddConversion(ctx, op.name, op.split)
		} else {
			_, err = s.AddSplit(ctx, op.name, op.split)
		}
		require.NoError(t, err)
	}
	_, err := s.RemoveLastTransaction(ctx)
	require.NoError(t, err)

	names, err := s.GetNames(ctx)
	require.NoError(t, err)

	folded := ledger.BalancesFrom(ledger.Fold(allTransactions(t, s), names))
	balances, err := s.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, folded, balances)
}

func testSequenceMonotonic(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		tx, err := s.AddSplit(ctx, Players[i%len(Players)], "2-3")
		require.NoError(t, err)
		assert.Greater(t, tx.Seq, last)
		last = tx.Seq
	}
}

func testOrdering(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	empty, err := s.GetLastNTransactions(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)

	splits := []string{"2-3", "3-6", "4-5", "5-6"}
	for _, split := range splits {
		_, err := s.AddSplit(ctx, "Bob", split)
		require.NoError(t, err)
	}

	none, err := s.GetLastNTransactions(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	all := allTransactions(t, s)
	require.Len(t, all, len(splits))
	for i, tx := range all {
		assert.Equal(t, splits[i], tx.Split)
		if i > 0 {
			assert.Greater(t, tx.Seq, all[i-1].Seq)
		}
	}

	lastTwo, err := s.GetLastNTransactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, lastTwo, 2)
	assert.Equal(t, "4-5", lastTwo[0].Split)
	assert.Equal(t, "5-6", lastTwo[1].Split)
}

func testUndoInverse(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	_, err := s.AddSplit(ctx, "Alice", "2-3")
	require.NoError(t, err)
	_, err = s.AddConversion(ctx, "Bob", "7-10")
	require.NoError(t, err)

	beforeBalances := balanceMap(t, s)
	beforeLog := allTransactions(t, s)

	_, err = s.AddSplit(ctx, "Charlie", "4-5-6")
	require.NoError(t, err)
	_, err = s.RemoveLastTransaction(ctx)
	require.NoError(t, err)

	assert.Equal(t, beforeBalances, balanceMap(t, s))
	assert.Equal(t, beforeLog, allTransactions(t, s))
	for k := 0; k <= len(beforeLog); k++ {
		got, err := s.GetLastNTransactions(ctx, k)
		require.NoError(t, err)
		assert.Len(t, got, k)
	}
}

func testUndoLeavesHole(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	_, err := s.AddSplit(ctx, "Alice", "2-3")
	require.NoError(t, err)
	second, err := s.AddSplit(ctx, "Bob", "2-3")
	require.NoError(t, err)

	removed, err := s.RemoveLastTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Seq, removed.Seq)

	next, err := s.AddSplit(ctx, "Charlie", "2-3")
	require.NoError(t, err)
	assert.Greater(t, next.Seq, removed.Seq, "sequence numbers are never reused")
}

func testUndoEmpty(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	before := balanceMap(t, s)

	_, err := s.RemoveLastTransaction(ctx)
	assert.ErrorIs(t, err, ledger.ErrEmptyLedger)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, before, balanceMap(t, s))
	assert.Empty(t, allTransactions(t, s))
}

func testInvalidSplit(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	_, err := s.AddSplit(ctx, "Alice", "7-10")
	require.NoError(t, err)
	before := balanceMap(t, s)

	_, err = s.AddConversion(ctx, "Alice", "1-10")
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit, "split missing from the award table")

	_, err = s.AddConversion(ctx, "Alice", "10-7")
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit, "malformed split on conversion")

	_, err = s.AddSplit(ctx, "Alice", "3-3")
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit, "malformed split on split")

	_, err = s.AddSplit(ctx, "Alice", "")
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit)

	assert.Len(t, allTransactions(t, s), 1)
	assert.Equal(t, before, balanceMap(t, s))
}

func testPaddedNameIsTrimmed(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	tx, err := s.AddSplit(ctx, " Alice", "7-10")
	require.NoError(t, err)
	assert.Equal(t, "Alice", tx.Debtor)

	tx, err = s.AddConversion(ctx, "Eve\t", "7-10")
	require.NoError(t, err)
	assert.Equal(t, "Eve", tx.Creditor)

	_, err = s.AddSplit(ctx, " "+ledger.Pot+" ", "7-10")
	assert.ErrorIs(t, err, ledger.ErrInvalidName)

	names, err := s.GetNames(ctx)
	require.NoError(t, err)
	balances, err := s.GetBalances(ctx)
	require.NoError(t, err)

	got := make([]string, 0, len(balances))
	for _, b := range balances {
		got = append(got, b.Name)
	}
	assert.ElementsMatch(t, names, got)
	assert.Contains(t, names, "Eve")

	b := balanceMap(t, s)
	assert.Equal(t, "-1.00", b["Alice"])
	assert.Equal(t, "0.25", b["Eve"])
}

func testInvalidName(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	_, err := s.AddSplit(ctx, "", "7-10")
	assert.ErrorIs(t, err, ledger.ErrInvalidName)

	_, err = s.AddSplit(ctx, ledger.Pot, "7-10")
	assert.ErrorIs(t, err, ledger.ErrInvalidName)

	_, err = s.AddConversion(ctx, ledger.Pot, "7-10")
	assert.ErrorIs(t, err, ledger.ErrInvalidName)

	assert.Empty(t, allTransactions(t, s))
}

func testSplitAwards(t *testing.T, s ledger.Store) {
	got, err := s.GetSplitAwards(context.Background())
	require.NoError(t, err)

	want := awards.Demo().Map()
	require.Len(t, got, len(want))
	for split, percent := range want {
		p, ok := got[split]
		if assert.True(t, ok, "missing split %s", split) {
			assert.True(t, percent.Equal(p), "split %s: want %s, got %s", split, percent, p)
		}
	}

	got["7-10"] = decimal.NewFromInt(99)
	again, err := s.GetSplitAwards(context.Background())
	require.NoError(t, err)
	assert.True(t, again["7-10"].Equal(decimal.NewFromInt(25)), "award table must not be mutable through results")
}

func testReconcileConsistent(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	_, err := s.AddSplit(ctx, "Alice", "7-10")
	require.NoError(t, err)
	_, err = s.AddConversion(ctx, "Alice", "7-10")
	require.NoError(t, err)
	before := balanceMap(t, s)

	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Drift)
	assert.Equal(t, 2, report.Transactions)
	assert.Equal(t, report.Before, report.After)
	assert.Equal(t, before, balanceMap(t, s))
}

func testConcurrentSplits(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	const writers, perWriter = 4, 5

	var (
		mu   sync.Mutex
		seqs = map[int64]bool{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, writers*perWriter)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tx, err := s.AddSplit(ctx, name, "2-3")
				if err != nil {
					errs <- err
					continue
				}
				mu.Lock()
				seqs[tx.Seq] = true
				mu.Unlock()
			}
		}(Players[w])
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent AddSplit failed: %v", err)
	}
	assert.Len(t, seqs, writers*perWriter, "no two transactions share a sequence number")
	assert.Len(t, allTransactions(t, s), writers*perWriter)

	b := balanceMap(t, s)
	assert.Equal(t, "20.00", b[ledger.Pot])
	for _, p := range Players[:writers] {
		assert.Equal(t, "-5.00", b[p])
	}
}

func testConcurrentSplitsAndUndos(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	const writers, perWriter, undos = 3, 6, 6

	var (
		mu      sync.Mutex
		seqs    = map[int64]bool{}
		removed = map[int64]bool{}
		wg      sync.WaitGroup
	)
	errs := make(chan error, writers*perWriter+undos)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tx, err := s.AddSplit(ctx, name, "2-3")
				if err != nil {
					errs <- err
					continue
				}
				mu.Lock()
				if seqs[tx.Seq] {
					t.Errorf("seq %d returned twice", tx.Seq)
				}
				seqs[tx.Seq] = true
				mu.Unlock()
			}
		}(Players[w])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < undos; i++ {
			tx, err := s.RemoveLastTransaction(ctx)
			if ledger.IsNotFound(err) {
				continue
			}
			if err != nil {
				errs <- err
				continue
			}
			mu.Lock()
			removed[tx.Seq] = true
			mu.Unlock()
		}
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent mutation failed: %v", err)
	}

	// An undo may take a transaction before its writer finishes, and the
	// writer then appends again under a new number.
	log := allTransactions(t, s)
	inLog := make(map[int64]bool, len(log))
	for _, tx := range log {
		inLog[tx.Seq] = true
		assert.True(t, seqs[tx.Seq], "seq %d in the log was never returned to a writer", tx.Seq)
		assert.False(t, removed[tx.Seq], "seq %d was removed but is still in the log", tx.Seq)
	}
	for seq := range seqs {
		if !removed[seq] {
			assert.True(t, inLog[seq], "seq %d was returned but is missing from the log", seq)
		}
	}

	names, err := s.GetNames(ctx)
	require.NoError(t, err)
	balances, err := s.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.BalancesFrom(ledger.Fold(log, names)), balances)
	assert.Equal(t, decimal.NewFromInt(int64(len(log))).StringFixed(2), balanceMap(t, s)[ledger.Pot])

	report, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Drift, "aggregate drifted from the log")
}
