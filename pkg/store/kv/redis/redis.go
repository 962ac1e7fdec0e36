// Package redis is a Redis driver for the kv ledger store. Conditional
// writes run as Lua scripts so each check-and-set is atomic on the server.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/store/kv"

	"github.com/redis/rueidis"
)

// Config holds configuration for the Redis driver.
type Config struct {
	// Addr is the Redis server address, e.g. "localhost:6379".
	Addr     string
	Username string
	Password string
	// DB is the Redis database number (0-15).
	DB int
	// KeyPrefix namespaces every key the driver writes.
	KeyPrefix    string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		KeyPrefix:    "pot:",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Backend implements kv.Backend on Redis.
//
// Layout per ledger, under KeyPrefix:
//
//	{ledger}:game        hash {version, data}
//	{ledger}:txn:{seq}   transaction JSON
//	{ledger}:txns        sorted set of seqs, scored by seq
type Backend struct {
	client rueidis.Client
	config Config
}

var _ kv.Backend = (*Backend)(nil)

// createGame sets the hash only if the key is absent.
var createGame = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
return 1
`)

// swapGame replaces the hash only if its version field equals ARGV[1].
var swapGame = rueidis.NewLuaScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
return 1
`)

// putTransaction stores the record and indexes it unless the seq is taken.
var putTransaction = rueidis.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[2])
return 1
`)

// deleteTransaction removes the record and its index entry.
var deleteTransaction = rueidis.NewLuaScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// New connects to Redis and verifies the server answers a PING.
func New(config Config) (*Backend, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis: no address configured")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      []string{config.Addr},
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: redis: failed to create client: %v", ledger.ErrBackendUnavailable, err)
	}

	b := &Backend{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return b, nil
}

// Name returns "redis".
func (b *Backend) Name() string {
	return "redis"
}

// Ping checks the connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Do(ctx, b.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("%w: redis: failed to ping server: %v", ledger.ErrBackendUnavailable, err)
	}
	return nil
}

func (b *Backend) gameKey(ledgerID string) string {
	return b.config.KeyPrefix + ledgerID + ":game"
}

func (b *Backend) indexKey(ledgerID string) string {
	return b.config.KeyPrefix + ledgerID + ":txns"
}

func (b *Backend) txnKey(ledgerID string, seq string) string {
	return b.config.KeyPrefix + ledgerID + ":txn:" + seq
}

func mapErr(err error) error {
	var netErr net.Error
	switch {
	case err == nil:
		return nil
	case rueidis.IsRedisNil(err):
		return ledger.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, rueidis.ErrClosing), errors.As(err, &netErr):
		return fmt.Errorf("%w: redis: %v", ledger.ErrBackendUnavailable, err)
	default:
		return fmt.Errorf("redis: %w", err)
	}
}

// LoadGame reads the aggregate record.
func (b *Backend) LoadGame(ctx context.Context, ledgerID string) (kv.Game, error) {
	data, err := b.client.Do(ctx, b.client.B().Hget().Key(b.gameKey(ledgerID)).Field("data").Build()).AsBytes()
	if err != nil {
		return kv.Game{}, mapErr(err)
	}

	var game kv.Game
	if err := json.Unmarshal(data, &game); err != nil {
		return kv.Game{}, fmt.Errorf("redis: unmarshal game: %w", err)
	}
	return game, nil
}

// CreateGame stores the aggregate if none exists.
func (b *Backend) CreateGame(ctx context.Context, ledgerID string, game kv.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("redis: marshal game: %w", err)
	}

	created, err := createGame.Exec(ctx, b.client,
		[]string{b.gameKey(ledgerID)},
		[]string{strconv.FormatInt(game.Version, 10), string(data)},
	).AsInt64()
	if err != nil {
		return mapErr(err)
	}
	if created == 0 {
		return fmt.Errorf("%w: ledger %s already provisioned", ledger.ErrConditionalWriteConflict, ledgerID)
	}
	return nil
}

// SwapGame replaces the aggregate if its stored version equals expected.
func (b *Backend) SwapGame(ctx context.Context, ledgerID string, expected int64, game kv.Game) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("redis: marshal game: %w", err)
	}

	result, err := swapGame.Exec(ctx, b.client,
		[]string{b.gameKey(ledgerID)},
		[]string{strconv.FormatInt(expected, 10), strconv.FormatInt(game.Version, 10), string(data)},
	).AsInt64()
	if err != nil {
		return mapErr(err)
	}

	switch result {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("%w: ledger %s", ledger.ErrNotFound, ledgerID)
	default:
		return fmt.Errorf("%w: game version moved from %d", ledger.ErrConditionalWriteConflict, expected)
	}
}

// PutTransactionIfAbsent stores tx unless its seq is taken.
func (b *Backend) PutTransactionIfAbsent(ctx context.Context, ledgerID string, tx ledger.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("redis: marshal transaction: %w", err)
	}

	seq := strconv.FormatInt(tx.Seq, 10)
	stored, err := putTransaction.Exec(ctx, b.client,
		[]string{b.txnKey(ledgerID, seq), b.indexKey(ledgerID)},
		[]string{string(data), seq},
	).AsInt64()
	if err != nil {
		return mapErr(err)
	}
	if stored == 0 {
		return fmt.Errorf("%w: seq %d taken", ledger.ErrConditionalWriteConflict, tx.Seq)
	}
	return nil
}

// DeleteTransaction removes the transaction with the given seq.
func (b *Backend) DeleteTransaction(ctx context.Context, ledgerID string, seq int64) error {
	s := strconv.FormatInt(seq, 10)
	deleted, err := deleteTransaction.Exec(ctx, b.client,
		[]string{b.txnKey(ledgerID, s), b.indexKey(ledgerID)},
		[]string{s},
	).AsInt64()
	if err != nil {
		return mapErr(err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: seq %d", ledger.ErrNotFound, seq)
	}
	return nil
}

// LatestTransactions reads the newest seqs from the index, then their records.
// A record deleted between the two reads is skipped.
func (b *Backend) LatestTransactions(ctx context.Context, ledgerID string, n int) ([]ledger.Transaction, error) {
	out := []ledger.Transaction{}
	if n == 0 {
		return out, nil
	}

	stop := int64(n - 1)
	if n < 0 {
		stop = -1
	}
	seqs, err := b.client.Do(ctx, b.client.B().Zrevrange().Key(b.indexKey(ledgerID)).Start(0).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, mapErr(err)
	}
	if len(seqs) == 0 {
		return out, nil
	}

	keys := make([]string, len(seqs))
	for i, seq := range seqs {
		keys[i] = b.txnKey(ledgerID, seq)
	}
	values, err := b.client.Do(ctx, b.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, mapErr(err)
	}

	for _, v := range values {
		data, err := v.AsBytes()
		if rueidis.IsRedisNil(err) {
			continue
		}
		if err != nil {
			return nil, mapErr(err)
		}
		var tx ledger.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			return nil, fmt.Errorf("redis: unmarshal transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// Clear deletes every key of a ledger. Intended for tests and tooling.
func (b *Backend) Clear(ctx context.Context, ledgerID string) error {
	seqs, err := b.client.Do(ctx, b.client.B().Zrange().Key(b.indexKey(ledgerID)).Min("0").Max("-1").Build()).AsStrSlice()
	if err != nil {
		return mapErr(err)
	}

	keys := []string{b.gameKey(ledgerID), b.indexKey(ledgerID)}
	for _, seq := range seqs {
		keys = append(keys, b.txnKey(ledgerID, seq))
	}
	return mapErr(b.client.Do(ctx, b.client.B().Del().Key(keys...).Build()).Error())
}

// Close closes the client.
func (b *Backend) Close() error {
	b.client.Close()
	return nil
}
