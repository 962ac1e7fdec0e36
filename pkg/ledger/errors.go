package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Ledger operation errors. Backends wrap these with fmt.Errorf("%w") so callers
// can match them with errors.Is.
var (
	// ErrNotFound is returned when the ledger aggregate or a requested record does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrEmptyLedger is returned by RemoveLastTransaction when the log has no entries.
	ErrEmptyLedger = fmt.Errorf("%w: ledger has no transactions", ErrNotFound)

	// ErrInvalidSplit is returned for a malformed split identifier, or a conversion
	// on a split missing from the award table.
	ErrInvalidSplit = errors.New("ledger: invalid split")

	// ErrInvalidName is returned when a mutation names no player or the reserved Pot.
	ErrInvalidName = errors.New("ledger: invalid name")

	// ErrConditionalWriteConflict is returned when a set-if-absent or compare-and-swap
	// precondition fails. It is retryable.
	ErrConditionalWriteConflict = errors.New("ledger: conditional write conflict")

	// ErrBackendUnavailable is returned when the storage medium cannot be reached.
	ErrBackendUnavailable = errors.New("ledger: backend unavailable")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = fmt.Errorf("%w: operation timeout", ErrBackendUnavailable)

	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = fmt.Errorf("%w: circuit breaker open", ErrBackendUnavailable)

	// ErrPartialUpdate is returned when a transaction was appended but the
	// aggregate could not be updated. The returned transaction is still valid.
	ErrPartialUpdate = errors.New("ledger: aggregate update failed after append")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is or wraps ErrConditionalWriteConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConditionalWriteConflict)
}

// IsUnavailable reports whether err is or wraps ErrBackendUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsPartialUpdate reports whether err is or wraps ErrPartialUpdate.
func IsPartialUpdate(err error) bool {
	return errors.Is(err, ErrPartialUpdate)
}

// ClassifyError returns a short label for err, for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyLedger):
		return "empty_ledger"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidSplit):
		return "invalid_split"
	case errors.Is(err, ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, ErrConditionalWriteConflict):
		return "conflict"
	case errors.Is(err, ErrPartialUpdate):
		return "partial_update"
	case errors.Is(err, ErrBackendUnavailable):
		return "unavailable"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial", "refused"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "encode", "decode"):
		return "serialization"
	case containsAny(msg, "redis", "leveldb", "postgres", "pq:"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError adds backend and operation context to err. nil stays nil.
func WrapError(err error, backend, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ledger backend %s %s: %w", backend, operation, err)
}
