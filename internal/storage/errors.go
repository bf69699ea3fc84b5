package storage

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes storage failures.
type ErrorCode string

const (
	// CodeNotFound indicates a store or index the schema does not define.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConstraint indicates an add on an existing key or a unique index
	// violation.
	CodeConstraint ErrorCode = "CONSTRAINT"

	// CodeMissingKey indicates a record without a usable primary key.
	CodeMissingKey ErrorCode = "MISSING_KEY"

	// CodeTransport indicates a failure of the underlying storage engine.
	CodeTransport ErrorCode = "TRANSPORT"
)

// Error is a classified storage failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Store and Index name the affected scope when known.
	Store string
	Index string

	// Err is the underlying driver error for TRANSPORT failures.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Store != "" && e.Index != "":
		msg = fmt.Sprintf("%s (store=%s, index=%s)", msg, e.Store, e.Index)
	case e.Store != "":
		msg = fmt.Sprintf("%s (store=%s)", msg, e.Store)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports an unknown store, or an unknown index of store
// when index is non-empty.
func NewNotFoundError(store, index string) *Error {
	if index != "" {
		return &Error{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("index %q is not defined", index),
			Store:   store,
			Index:   index,
		}
	}
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("store %q is not defined", store),
		Store:   store,
	}
}

// NewConstraintError reports a key collision.
func NewConstraintError(store, index, message string) *Error {
	return &Error{Code: CodeConstraint, Message: message, Store: store, Index: index}
}

// NewMissingKeyError reports a record without a usable primary key.
func NewMissingKeyError(store, keyPath string) *Error {
	msg := "record has no key and the store does not auto-increment"
	if keyPath != "" {
		msg = fmt.Sprintf("record has no valid key at %q", keyPath)
	}
	return &Error{Code: CodeMissingKey, Message: msg, Store: store}
}

// NewTransportError wraps a driver failure.
func NewTransportError(store, op string, err error) *Error {
	return &Error{Code: CodeTransport, Message: op, Store: store, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound returns true if err is a NOT_FOUND storage error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsConstraint returns true if err is a CONSTRAINT storage error.
func IsConstraint(err error) bool {
	return CodeOf(err) == CodeConstraint
}

// IsMissingKey returns true if err is a MISSING_KEY storage error.
func IsMissingKey(err error) bool {
	return CodeOf(err) == CodeMissingKey
}

// IsTransport returns true if err is a TRANSPORT storage error.
func IsTransport(err error) bool {
	return CodeOf(err) == CodeTransport
}

// Classify wraps err as TRANSPORT unless it already carries a code.
// Adapters pass every driver error through Classify before returning it.
func Classify(store, op string, err error) error {
	if err == nil || CodeOf(err) != "" {
		return err
	}
	return NewTransportError(store, op, err)
}
