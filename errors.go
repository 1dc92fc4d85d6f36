package mssqlmcp

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure returned by SessionManager.
type ErrorKind int

const (
	// KindValidation is malformed or out-of-range input. No I/O was attempted.
	KindValidation ErrorKind = iota + 1
	// KindConnection is a failure establishing a session.
	KindConnection
	// KindPrecondition means the operation requires a connected session.
	KindPrecondition
	// KindQuery means the driver rejected or failed to execute a statement.
	KindQuery
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnection:
		return "connection"
	case KindPrecondition:
		return "precondition"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// ErrNotConnected is the cause of every KindPrecondition error.
var ErrNotConnected = errors.New("not connected to SQL Server")

// Error is the single error type returned by SessionManager.
// The message of the wrapped cause is preserved verbatim.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func validationError(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func connectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func preconditionError(op string) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: ErrNotConnected}
}

func queryError(op string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}
