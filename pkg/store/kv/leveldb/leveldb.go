// Package leveldb is an embedded key-value driver for the kv ledger store.
// Check-and-put sequences run inside a goleveldb transaction, which the
// database serialises against every other transaction and write.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/store/kv"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_opt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Config holds configuration for the LevelDB driver.
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string

	// ReadOnly opens an existing database without write access.
	ReadOnly bool
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{Path: "pot-ledger.db"}
}

// Backend implements kv.Backend on a LevelDB database.
type Backend struct {
	db *leveldb.DB
}

// Open opens or creates the database at config.Path.
func Open(config Config) (*Backend, error) {
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}
	opt := &ldb_opt.Options{
		ErrorIfMissing: config.ReadOnly,
		ReadOnly:       config.ReadOnly,
	}

	db, err := leveldb.OpenFile(config.Path, opt)
	if err != nil {
		return nil, fmt.Errorf("%w: leveldb open %s: %v", ledger.ErrBackendUnavailable, config.Path, err)
	}
	return &Backend{db: db}, nil
}

// OpenStorage opens a database on an arbitrary goleveldb storage, such as
// storage.NewMemStorage() in tests.
func OpenStorage(stor storage.Storage) (*Backend, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: leveldb open: %v", ledger.ErrBackendUnavailable, err)
	}
	return &Backend{db: db}, nil
}

var _ kv.Backend = (*Backend)(nil)

// Name returns "leveldb".
func (b *Backend) Name() string {
	return "leveldb"
}

func gameKey(ledgerID string) []byte {
	return []byte("ledger/" + ledgerID + "/game")
}

func txnPrefix(ledgerID string) []byte {
	return []byte("ledger/" + ledgerID + "/txn/")
}

// txnKey appends the big-endian seq so keys sort in sequence order.
func txnKey(ledgerID string, seq int64) []byte {
	prefix := txnPrefix(ledgerID)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(seq))
	return key
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return ledger.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return fmt.Errorf("%w: leveldb: %v", ledger.ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("leveldb: %w", err)
	}
}

// LoadGame reads the aggregate record.
func (b *Backend) LoadGame(ctx context.Context, ledgerID string) (kv.Game, error) {
	if err := ctx.Err(); err != nil {
		return kv.Game{}, err
	}

	data, err := b.db.Get(gameKey(ledgerID), nil)
	if err != nil {
		return kv.Game{}, mapErr(err)
	}
	return decodeGame(data)
}

func decodeGame(data []byte) (kv.Game, error) {
	var game kv.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return kv.Game{}, fmt.Errorf("leveldb: unmarshal game: %w", err)
	}
	return game, nil
}

// CreateGame stores the aggregate if none exists.
func (b *Backend) CreateGame(ctx context.Context, ledgerID string, game kv.Game) error {
	return b.update(ctx, func(tr *leveldb.Transaction) error {
		key := gameKey(ledgerID)
		exists, err := tr.Has(key, nil)
		if err != nil {
			return mapErr(err)
		}
		if exists {
			return fmt.Errorf("%w: ledger %s already provisioned", ledger.ErrConditionalWriteConflict, ledgerID)
		}
		return putJSON(tr, key, game)
	})
}

// SwapGame replaces the aggregate if its stored version equals expected.
func (b *Backend) SwapGame(ctx context.Context, ledgerID string, expected int64, game kv.Game) error {
	return b.update(ctx, func(tr *leveldb.Transaction) error {
		key := gameKey(ledgerID)
		data, err := tr.Get(key, nil)
		if err != nil {
			return mapErr(err)
		}
		current, err := decodeGame(data)
		if err != nil {
			return err
		}
		if current.Version != expected {
			return fmt.Errorf("%w: game version %d, expected %d", ledger.ErrConditionalWriteConflict, current.Version, expected)
		}
		return putJSON(tr, key, game)
	})
}

// PutTransactionIfAbsent stores tx unless its seq is taken.
func (b *Backend) PutTransactionIfAbsent(ctx context.Context, ledgerID string, tx ledger.Transaction) error {
	return b.update(ctx, func(tr *leveldb.Transaction) error {
		key := txnKey(ledgerID, tx.Seq)
		exists, err := tr.Has(key, nil)
		if err != nil {
			return mapErr(err)
		}
		if exists {
			return fmt.Errorf("%w: seq %d taken", ledger.ErrConditionalWriteConflict, tx.Seq)
		}
		return putJSON(tr, key, tx)
	})
}

// DeleteTransaction removes the transaction with the given seq.
func (b *Backend) DeleteTransaction(ctx context.Context, ledgerID string, seq int64) error {
	return b.update(ctx, func(tr *leveldb.Transaction) error {
		key := txnKey(ledgerID, seq)
		exists, err := tr.Has(key, nil)
		if err != nil {
			return mapErr(err)
		}
		if !exists {
			return fmt.Errorf("%w: seq %d", ledger.ErrNotFound, seq)
		}
		return mapErr(tr.Delete(key, nil))
	})
}

// LatestTransactions walks the ledger's transaction keys backwards.
func (b *Backend) LatestTransactions(ctx context.Context, ledgerID string, n int) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []ledger.Transaction{}
	if n == 0 {
		return out, nil
	}

	iter := b.db.NewIterator(util.BytesPrefix(txnPrefix(ledgerID)), nil)
	defer iter.Release()

	for ok := iter.Last(); ok; ok = iter.Prev() {
		var tx ledger.Transaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return nil, fmt.Errorf("leveldb: unmarshal transaction: %w", err)
		}
		out = append(out, tx)
		if n > 0 && len(out) == n {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// update runs fn in a transaction and commits it if fn succeeds.
func (b *Backend) update(ctx context.Context, fn func(tr *leveldb.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tr, err := b.db.OpenTransaction()
	if err != nil {
		return mapErr(err)
	}

	if err := fn(tr); err != nil {
		tr.Discard()
		return err
	}
	return mapErr(tr.Commit())
}

func putJSON(tr *leveldb.Transaction, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("leveldb: marshal: %w", err)
	}
	return mapErr(tr.Put(key, data, nil))
}
