// Package apperror defines the error kinds shared by the token economy
// domains. Every domain error carries one kind plus a stable code.
package apperror

import (
	"errors"
	"strings"
)

var (
	ErrInsufficientFunds = errors.New("insufficient_funds")
	ErrInvalidState      = errors.New("invalid_state")
	ErrNotFound          = errors.New("not_found")
	ErrDuplicatePayment  = errors.New("duplicate_payment")
	ErrValidation        = errors.New("validation_error")
)

// Error is a coded domain error. Two errors with the same code match under errors.Is.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
}

func New(kind error, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of err carrying the given details.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	for k, v := range details {
		clone.Details[k] = v
	}
	return &clone
}

// WithMessage returns a copy of err with a human readable message.
func (e *Error) WithMessage(msg string) *Error {
	clone := *e
	clone.Message = strings.TrimSpace(msg)
	return &clone
}

var errInsufficientFunds = New(ErrInsufficientFunds, "insufficient_tokens")

// InsufficientFunds reports the shortfall of a debit.
func InsufficientFunds(required, available int64) *Error {
	return errInsufficientFunds.WithDetails(map[string]any{
		"required":  required,
		"available": available,
	})
}

// Validation builds a field level validation error.
func Validation(field, code string) *Error {
	return New(ErrValidation, code).WithDetails(map[string]any{"field": field})
}

// As extracts the coded error from err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind err belongs to, or nil for uncoded errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrInsufficientFunds, ErrInvalidState, ErrNotFound, ErrDuplicatePayment, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
