// Package apperr holds the error taxonomy shared by the services, the stores
// and the HTTP layer. Services wrap these sentinels with context; callers match
// them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrOutOfStock      = errors.New("book is out of stock")
	ErrAlreadyBorrowed = errors.New("book already borrowed by this user")
	ErrAlreadyReturned = errors.New("borrow already returned")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflicting concurrent update, retry")
	ErrValidation      = errors.New("validation failed")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrDuplicate       = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInvariant       = errors.New("inventory invariant violated")
)

// Stable machine-readable codes, used in HTTP error bodies.
const (
	CodeNotFound        = "not_found"
	CodeOutOfStock      = "out_of_stock"
	CodeAlreadyBorrowed = "already_borrowed"
	CodeAlreadyReturned = "already_returned"
	CodeForbidden       = "forbidden"
	CodeConflict        = "conflict"
	CodeValidation      = "validation_error"
	CodeUnauthorized    = "unauthorized"
	CodeDuplicate       = "duplicate"
	CodeRateLimited     = "rate_limited"
	CodeInvariant       = "invariant_violation"
	CodeInternal        = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrOutOfStock, CodeOutOfStock},
	{ErrAlreadyBorrowed, CodeAlreadyBorrowed},
	{ErrAlreadyReturned, CodeAlreadyReturned},
	{ErrForbidden, CodeForbidden},
	{ErrConflict, CodeConflict},
	{ErrValidation, CodeValidation},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrDuplicate, CodeDuplicate},
	{ErrRateLimited, CodeRateLimited},
	{ErrInvariant, CodeInvariant},
}

// Code returns the stable code for the first sentinel err wraps, or
// CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode maps a code received over the wire back to its sentinel. Unknown
// codes yield nil.
func FromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// Validation builds an ErrValidation carrying a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether the operation may succeed if simply repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
