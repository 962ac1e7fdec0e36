// Package resilience decorates a ledger store with a circuit breaker, a
// per-call deadline, operation metrics and timing logs.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store wraps a ledger.Store with resilience features.
type Store struct {
	inner   ledger.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

var (
	_ ledger.Store       = (*Store)(nil)
	_ ledger.Provisioner = (*Store)(nil)
)

// Wrap decorates inner. A nil collector or logger falls back to the no-op
// collector and the global logger.
func Wrap(inner ledger.Store, config Config, collector metrics.MetricsCollector, logger *logging.Logger) *Store {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.Named("resilience").With(logging.Backend(inner.Name()))

	s := &Store{
		inner:   inner,
		timeout: config.Timeout,
		metrics: collector,
		logger:  logger,
	}

	logger.Info("resilient store initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			c := Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			}
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(c)
			}
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return !IsBackendFailure(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			s.metrics.RecordCircuitState(name, state)
		},
	}
	s.cb = gobreaker.NewCircuitBreaker(settings)

	return s
}

// IsBackendFailure reports whether err says something about the backend's
// health. Rejected input, missing data, lost races and cancelled callers do not.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ledger.ErrInvalidSplit),
		errors.Is(err, ledger.ErrInvalidName),
		ledger.IsNotFound(err),
		ledger.IsConflict(err),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// Name returns the name of the underlying store.
func (s *Store) Name() string {
	return s.inner.Name()
}

// Unwrap returns the decorated store.
func (s *Store) Unwrap() ledger.Store {
	return s.inner
}

// State returns the circuit breaker's current state.
func (s *Store) State() metrics.CircuitState {
	switch s.cb.State() {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// execute runs fn through the breaker under the per-call deadline and
// records the outcome.
func (s *Store) execute(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	parent := ctx

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	duration := time.Since(start)
	s.metrics.RecordOperation(s.Name(), op, err == nil, duration)

	if err == nil {
		s.logger.Debug("ledger operation", logging.Operation(op), logging.Duration(duration))
		return result, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.logger.Warn("circuit breaker open - request rejected", logging.Operation(op))
		err = ledger.WrapError(ledger.ErrCircuitOpen, s.Name(), op)
	case ctx.Err() == context.DeadlineExceeded && parent.Err() == nil:
		s.logger.Warn("operation timeout",
			logging.Operation(op),
			zap.Duration("timeout", s.timeout),
			zap.Duration("elapsed", duration),
		)
		err = ledger.WrapError(fmt.Errorf("%w: after %s: %v", ledger.ErrTimeout, s.timeout, err), s.Name(), op)
	case IsBackendFailure(err):
		s.logger.Error("ledger operation failed",
			logging.Operation(op),
			logging.Duration(duration),
			zap.Error(err),
		)
	default:
		s.logger.Debug("ledger operation rejected",
			logging.Operation(op),
			logging.Duration(duration),
			zap.Error(err),
		)
	}

	s.metrics.RecordError(s.Name(), op, ledger.ClassifyError(err))
	return result, err
}

func (s *Store) GetNames(ctx context.Context) ([]string, error) {
	result, err := s.execute(ctx, ledger.OpGetNames, func(ctx context.Context) (interface{}, error) {
		return s.inner.GetNames(ctx)
	})
	names, _ := result.([]string)
	return names, err
}

func (s *Store) GetBalances(ctx context.Context) ([]ledger.Balance, error) {
	result, err := s.execute(ctx, ledger.OpGetBalances, func(ctx context.Context) (interface{}, error) {
		return s.inner.GetBalances(ctx)
	})
	balances, _ := result.([]ledger.Balance)
	return balances, err
}

func (s *Store) GetLastNTransactions(ctx context.Context, n int) ([]ledger.Transaction, error) {
	result, err := s.execute(ctx, ledger.OpGetLast, func(ctx context.Context) (interface{}, error) {
		return s.inner.GetLastNTransactions(ctx, n)
	})
	txns, _ := result.([]ledger.Transaction)
	return txns, err
}

func (s *Store) RemoveLastTransaction(ctx context.Context) (ledger.Transaction, error) {
	result, err := s.execute(ctx, ledger.OpRemoveLast, func(ctx context.Context) (interface{}, error) {
		return s.inner.RemoveLastTransaction(ctx)
	})
	tx, _ := result.(ledger.Transaction)
	return tx, err
}

func (s *Store) AddSplit(ctx context.Context, name, split string) (ledger.Transaction, error) {
	result, err := s.execute(ctx, ledger.OpAddSplit, func(ctx context.Context) (interface{}, error) {
		return s.inner.AddSplit(ctx, name, split)
	})
	tx, _ := result.(ledger.Transaction)
	return tx, err
}

func (s *Store) AddConversion(ctx context.Context, name, split string) (ledger.Transaction, error) {
	result, err := s.execute(ctx, ledger.OpAddConversion, func(ctx context.Context) (interface{}, error) {
		return s.inner.AddConversion(ctx, name, split)
	})
	tx, _ := result.(ledger.Transaction)
	return tx, err
}

func (s *Store) GetSplitAwards(ctx context.Context) (map[string]decimal.Decimal, error) {
	result, err := s.execute(ctx, ledger.OpGetSplitAwards, func(ctx context.Context) (interface{}, error) {
		return s.inner.GetSplitAwards(ctx)
	})
	table, _ := result.(map[string]decimal.Decimal)
	return table, err
}

func (s *Store) Reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	result, err := s.execute(ctx, ledger.OpReconcile, func(ctx context.Context) (interface{}, error) {
		return s.inner.Reconcile(ctx)
	})
	report, _ := result.(ledger.ReconcileReport)
	return report, err
}

// Provision forwards to the inner store when it needs provisioning.
func (s *Store) Provision(ctx context.Context, players []string) error {
	p, ok := s.inner.(ledger.Provisioner)
	if !ok {
		return nil
	}
	_, err := s.execute(ctx, ledger.OpProvision, func(ctx context.Context) (interface{}, error) {
		return nil, p.Provision(ctx, players)
	})
	return err
}

// Close closes the underlying store.
func (s *Store) Close() error {
	return s.inner.Close()
}
