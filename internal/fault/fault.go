// Package fault defines the error categories shared by the API layer and the
// job processor. Handlers map a category to an HTTP status; the processor maps
// it to a retry decision.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Category classifies an error for propagation policy.
type Category int

const (
	Unknown Category = iota
	NotFound
	Conflict
	IntegrityFailure
	InvalidInput
	Unauthorized
	Forbidden
	InsufficientCredit
	RateLimited
	Unavailable
	Timeout
	UnsupportedFormat
)

var names = map[Category]string{
	Unknown:            "unknown",
	NotFound:           "not_found",
	Conflict:           "conflict",
	IntegrityFailure:   "integrity_failure",
	InvalidInput:       "invalid_input",
	Unauthorized:       "unauthorized",
	Forbidden:          "forbidden",
	InsufficientCredit: "insufficient_credit",
	RateLimited:        "rate_limited",
	Unavailable:        "unavailable",
	Timeout:            "timeout",
	UnsupportedFormat:  "unsupported_format",
}

func (c Category) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown"
}

// Transient reports whether work failing with this category may be retried.
// Everything else is treated as permanent.
func (c Category) Transient() bool {
	switch c {
	case RateLimited, Unavailable, Timeout:
		return true
	}
	return false
}

// HTTPStatus returns the status code the API layer uses for this category.
func (c Category) HTTPStatus() int {
	switch c {
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case InvalidInput, IntegrityFailure, UnsupportedFormat:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case InsufficientCredit:
		return http.StatusPaymentRequired
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error is a categorized error. Use New/Errorf to construct and CategoryOf to
// recover the category anywhere up the wrap chain.
type Error struct {
	Cat Category
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a categorized error with a fixed message.
func New(cat Category, msg string) error {
	return &Error{Cat: cat, Msg: msg}
}

// Errorf returns a categorized error wrapping cause.
func Errorf(cat Category, cause error, format string, args ...any) error {
	return &Error{Cat: cat, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Wrap attaches a category to an existing error, keeping its message.
func Wrap(cat Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Cat: cat, Msg: cat.String(), Err: err}
}

// CategoryOf walks the wrap chain and returns the first category found,
// or Unknown if the error carries none. A nil error has no category.
func CategoryOf(err error) Category {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Cat
	}
	return Unknown
}

// Is reports whether err carries the given category.
func Is(err error, cat Category) bool {
	return err != nil && CategoryOf(err) == cat
}
