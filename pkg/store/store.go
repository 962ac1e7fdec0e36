// Package store opens the configured ledger backend and stacks the activity
// and resilience decorators on top of it.
package store

import (
	"context"
	"fmt"
	"time"

	"pot-ledger/pkg/activity"
	"pot-ledger/pkg/config"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"
	"pot-ledger/pkg/resilience"
	"pot-ledger/pkg/store/kv"
	"pot-ledger/pkg/store/kv/leveldb"
	redisdrv "pot-ledger/pkg/store/kv/redis"
	"pot-ledger/pkg/store/memory"
	"pot-ledger/pkg/store/rows"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Ledger is the fully decorated store returned by Open.
type Ledger struct {
	ledger.Store

	resilient *resilience.Store
	writer    *activity.Writer
	logger    *logging.Logger
}

var _ ledger.Provisioner = (*Ledger)(nil)

// Open builds the backend named by cfg.Backend. A nil collector or logger
// falls back to the no-op collector and the global logger.
func Open(cfg config.Config, collector metrics.MetricsCollector, logger *logging.Logger) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.Global()
	}

	base, err := openBackend(cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	l := &Ledger{logger: logger.Named("store")}
	var s ledger.Store = base

	// The row store writes its activity rows inside the mutation transaction.
	if _, inline := base.(activity.Reader); !inline {
		if sink := newSink(cfg.Activity, logger); sink != nil {
			l.writer = activity.NewWriter(sink, activity.DefaultWriterConfig(), collector, logger)
			s = activity.Wrap(s, cfg.LedgerID, l.writer, nil, logger)
		}
	}

	rc := resilience.DefaultConfig()
	if cfg.Timeout > 0 {
		rc = rc.WithTimeout(cfg.Timeout)
	}
	l.resilient = resilience.Wrap(s, rc, collector, logger)
	l.Store = l.resilient

	l.logger.Info("ledger store opened",
		logging.Backend(base.Name()),
		logging.Ledger(cfg.LedgerID),
		zap.String("activity", cfg.Activity),
	)
	return l, nil
}

func openBackend(cfg config.Config, collector metrics.MetricsCollector, logger *logging.Logger) (ledger.Store, error) {
	table, err := cfg.Awards()
	if err != nil {
		return nil, err
	}
	retry := ledger.DefaultRetryPolicy()
	retry.Attempts = cfg.RetryAttempts
	if cfg.RetryBaseDelay > 0 {
		retry.BaseDelay = cfg.RetryBaseDelay
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(memory.Config{
			Players: cfg.Players,
			Awards:  table,
		}), nil

	case config.BackendKV:
		var backend kv.Backend
		switch cfg.KVDriver {
		case config.DriverLevelDB:
			backend, err = leveldb.Open(leveldb.Config{Path: cfg.LevelDBPath})
		default:
			rc := redisdrv.DefaultConfig()
			rc.Addr = cfg.RedisAddr
			rc.Password = cfg.RedisPassword
			rc.KeyPrefix = cfg.RedisPrefix
			backend, err = redisdrv.New(rc)
		}
		if err != nil {
			return nil, err
		}
		return kv.New(backend, kv.Config{
			LedgerID:      cfg.LedgerID,
			Players:       cfg.Players,
			Awards:        table,
			AutoProvision: cfg.AutoProvision,
			Retry:         retry,
			Metrics:       collector,
			Logger:        logger,
		}), nil

	case config.BackendRows:
		rc := rows.DefaultConfig()
		rc.DSN = cfg.PostgresDSN
		rc.LedgerID = cfg.LedgerID
		rc.Players = cfg.Players
		rc.Awards = table
		rc.AutoProvision = cfg.AutoProvision
		rc.Retry = retry
		rc.Metrics = collector
		rc.Logger = logger
		s, err := rows.Open(rc)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

func newSink(kind string, logger *logging.Logger) activity.Sink {
	switch kind {
	case config.ActivityMemory:
		return activity.NewMemorySink()
	case config.ActivityLog:
		return activity.NewLogSink(logger)
	default:
		return nil
	}
}

// Provision forwards to the backend when it needs provisioning.
func (l *Ledger) Provision(ctx context.Context, players []string) error {
	return l.resilient.Provision(ctx, players)
}

// State returns the circuit breaker state.
func (l *Ledger) State() metrics.CircuitState {
	return l.resilient.State()
}

// Unwrap returns the store beneath the ledger's outer decorator.
func (l *Ledger) Unwrap() ledger.Store {
	return l.resilient
}

// RecentActivity returns up to n of the newest activity entries, oldest
// first. It is empty when activity is not kept anywhere readable.
func (l *Ledger) RecentActivity(ctx context.Context, n int) ([]activity.Entry, error) {
	if r, ok := Find[activity.Reader](l.resilient); ok {
		return r.RecentActivity(ctx, n)
	}
	return []activity.Entry{}, nil
}

// Flush waits until queued activity entries reach their sink.
func (l *Ledger) Flush(timeout time.Duration) error {
	if l.writer == nil {
		return nil
	}
	return l.writer.Flush(timeout)
}

// Close drains the activity writer and closes the backend.
func (l *Ledger) Close() error {
	var err error
	if l.writer != nil {
		err = multierr.Append(err, l.writer.Close())
	}
	err = multierr.Append(err, l.Store.Close())
	if err != nil {
		l.logger.Error("ledger store closed with errors", zap.Error(err))
	}
	return err
}

// Find walks the decorator chain from s inward and returns the first layer
// that implements T.
func Find[T any](s ledger.Store) (T, bool) {
	for s != nil {
		if t, ok := s.(T); ok {
			return t, true
		}
		u, ok := s.(interface{ Unwrap() ledger.Store })
		if !ok {
			break
		}
		s = u.Unwrap()
	}
	var zero T
	return zero, false
}
