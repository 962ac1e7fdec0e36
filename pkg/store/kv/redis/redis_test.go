package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/ledger/ledgertest"
	"pot-ledger/pkg/store/kv"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoRedis skips the test unless POT_TEST_REDIS_ADDR names a server.
func skipIfNoRedis(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("POT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POT_TEST_REDIS_ADDR not set")
	}
	return addr
}

func setupTestRedis(t *testing.T) *Backend {
	t.Helper()
	addr := skipIfNoRedis(t)

	config := DefaultConfig()
	config.Addr = addr
	config.KeyPrefix = "pot-test:"
	config.DialTimeout = 2 * time.Second

	b, err := New(config)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return b
}

// ledgerFor returns a fresh ledger id and removes its keys once t ends.
func ledgerFor(t *testing.T, b *Backend) string {
	t.Helper()
	id := uuid.NewString()
	t.Cleanup(func() {
		_ = b.Clear(context.Background(), id)
	})
	return id
}

func TestNew_NoAddress(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_Unreachable(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:1"
	config.DialTimeout = 200 * time.Millisecond

	_, err := New(config)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrBackendUnavailable)
}

func TestStore_Conformance(t *testing.T) {
	b := setupTestRedis(t)
	defer b.Close()

	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return kv.New(&unclosable{b}, kv.Config{
			LedgerID:      ledgerFor(t, b),
			Players:       ledgertest.Players,
			Awards:        awards.Demo(),
			AutoProvision: true,
			Retry:         ledger.RetryPolicy{Attempts: 50, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond},
		})
	})
}

// unclosable lets each subtest close its store without closing the shared client.
type unclosable struct {
	*Backend
}

func (u *unclosable) Close() error { return nil }

func TestBackend_Conditions(t *testing.T) {
	b := setupTestRedis(t)
	defer b.Close()
	ctx := context.Background()
	id := ledgerFor(t, b)

	_, err := b.LoadGame(ctx, id)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	game := kv.NewGame([]string{"Alice"})
	require.NoError(t, b.CreateGame(ctx, id, game))
	assert.ErrorIs(t, b.CreateGame(ctx, id, game), ledger.ErrConditionalWriteConflict)

	next := game.Clone()
	next.Version = 2
	require.NoError(t, b.SwapGame(ctx, id, 1, next))
	assert.ErrorIs(t, b.SwapGame(ctx, id, 1, next), ledger.ErrConditionalWriteConflict)

	tx := ledger.Transaction{Seq: 1, Creditor: ledger.Pot, Debtor: "Alice", Amount: ledger.SplitAmount, Split: "2-3"}
	require.NoError(t, b.PutTransactionIfAbsent(ctx, id, tx))
	assert.ErrorIs(t, b.PutTransactionIfAbsent(ctx, id, tx), ledger.ErrConditionalWriteConflict)

	require.NoError(t, b.DeleteTransaction(ctx, id, 1))
	assert.ErrorIs(t, b.DeleteTransaction(ctx, id, 1), ledger.ErrNotFound)
}

func TestBackend_LatestOrdersBySeq(t *testing.T) {
	b := setupTestRedis(t)
	defer b.Close()
	ctx := context.Background()
	id := ledgerFor(t, b)

	for _, seq := range []int64{2, 256, 1, 17} {
		require.NoError(t, b.PutTransactionIfAbsent(ctx, id, ledger.Transaction{Seq: seq}))
	}

	all, err := b.LatestTransactions(ctx, id, -1)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []int64{256, 17, 2, 1}, []int64{all[0].Seq, all[1].Seq, all[2].Seq, all[3].Seq})

	two, err := b.LatestTransactions(ctx, id, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}
