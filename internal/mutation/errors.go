package mutation

import (
	"errors"
	"fmt"

	"github.com/roach88/livekv/internal/storage"
)

// WriteError is the single failure type of the pipeline. It is tagged once
// with the originating request and never re-tagged downstream.
type WriteError struct {
	// Query is the request that failed.
	Query Request

	// Cause is the underlying failure, usually a *storage.Error.
	Cause error

	// RequestID identifies the failed request.
	RequestID string

	// Probe describes the attempted change: the would-be key, the request
	// data as the new value, and index deltas derived from it. It decides
	// which live views the failure concerns and is never committed.
	Probe *Event
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Query.Op, e.Query.Store, e.Cause)
}

// Unwrap returns the cause, so storage.IsConstraint and friends see
// through a WriteError.
func (e *WriteError) Unwrap() error {
	return e.Cause
}

// Code returns the storage error code of the cause, or TRANSPORT for
// unclassified failures.
func (e *WriteError) Code() storage.ErrorCode {
	if code := storage.CodeOf(e.Cause); code != "" {
		return code
	}
	return storage.CodeTransport
}

// AsWriteError extracts a *WriteError from err's chain.
func AsWriteError(err error) (*WriteError, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
