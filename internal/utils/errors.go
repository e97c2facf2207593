package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError so the HTTP layer can map it to a status
// code without string matching.
type ErrorKind int

const (
	// KindInternal is the default for unexpected failures.
	KindInternal ErrorKind = iota
	// KindInvalid marks caller mistakes such as malformed requests.
	KindInvalid
	// KindUpstream marks failures of a dependency (telemetry store, audit
	// store, state store).
	KindUpstream
	// KindNotFound marks lookups for targets with no recorded state.
	KindNotFound
)

// AppError wraps an operation, a human-facing message, a kind, and the
// underlying error.
type AppError struct {
	Op   string
	Msg  string
	Kind ErrorKind
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError of the given kind.
func E(kind ErrorKind, op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to
// KindInternal for errors that are not AppErrors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
