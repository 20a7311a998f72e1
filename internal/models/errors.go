package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("upload session not found")
	ErrState          = errors.New("invalid session state")
	ErrOutOfOrder     = fmt.Errorf("%w: chunk out of order", ErrState)
	ErrIncomplete     = fmt.Errorf("%w: upload incomplete", ErrState)
	ErrBackend        = errors.New("storage backend failure")
	ErrPartialFailure = errors.New("post-commit replication failed")
)

// OpError ties a protocol failure to the operation and session it happened in.
// It unwraps to both the taxonomy sentinel and the underlying cause.
type OpError struct {
	Op   string
	Key  string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError строит ошибку операции с указанным видом и причиной.
func NewOpError(op, key string, kind, err error) *OpError {
	return &OpError{Op: op, Key: key, Kind: kind, Err: err}
}

// Validationf is a shorthand for ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Code returns the stable wire code of the error kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIncomplete):
		return "incomplete"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrBackend):
		return "backend"
	default:
		return "internal"
	}
}

// FromCode is the inverse of Code, used by protocol clients.
func FromCode(code string) error {
	switch code {
	case "not_found":
		return ErrNotFound
	case "incomplete":
		return ErrIncomplete
	case "out_of_order":
		return ErrOutOfOrder
	case "state":
		return ErrState
	case "validation":
		return ErrValidation
	case "backend":
		return ErrBackend
	default:
		return nil
	}
}
