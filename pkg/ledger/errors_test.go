package ledger

import (
	"errors"
	"fmt"
	"testing"
)

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}

func TestErrorHierarchy(t *testing.T) {
	if !IsNotFound(ErrEmptyLedger) {
		t.Error("ErrEmptyLedger should be a NotFound")
	}
	if !IsUnavailable(ErrTimeout) {
		t.Error("ErrTimeout should be a BackendUnavailable")
	}
	if !IsUnavailable(ErrCircuitOpen) {
		t.Error("ErrCircuitOpen should be a BackendUnavailable")
	}
	if IsNotFound(ErrInvalidSplit) {
		t.Error("ErrInvalidSplit should not be a NotFound")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{ErrCircuitOpen, "circuit_breaker_open"},
		{ErrTimeout, "timeout"},
		{ErrEmptyLedger, "empty_ledger"},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("wrapped: %w", ErrInvalidSplit), "invalid_split"},
		{ErrInvalidName, "invalid_name"},
		{ErrConditionalWriteConflict, "conflict"},
		{ErrPartialUpdate, "partial_update"},
		{ErrBackendUnavailable, "unavailable"},
		{errors.New("dial tcp: connection refused"), "connection"},
		{errors.New("json: cannot unmarshal"), "serialization"},
		{errors.New("pq: relation missing"), "backend"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "memory", "add_split") != nil {
		t.Error("WrapError(nil) should be nil")
	}

	err := WrapError(ErrConditionalWriteConflict, "kv/redis", "add_split")
	if !IsConflict(err) {
		t.Errorf("Wrapped error lost its sentinel: %v", err)
	}
	want := "ledger backend kv/redis add_split: ledger: conditional write conflict"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
