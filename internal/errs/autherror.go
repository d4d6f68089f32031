package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures surfaced across the session boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindNetwork
	KindValidation
	KindUnauthorized
	KindBusy
	KindRateLimited
)

var kindSentinels = map[Kind]error{
	KindUnknown:            ErrUnknown,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindNetwork:            ErrNetwork,
	KindValidation:         ErrValidation,
	KindUnauthorized:       ErrUnauthorized,
	KindBusy:               ErrBusy,
	KindRateLimited:        ErrRateLimited,
}

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "InvalidCredentials"
	case KindNetwork:
		return "NetworkError"
	case KindValidation:
		return "ValidationError"
	case KindUnauthorized:
		return "Unauthorized"
	case KindBusy:
		return "Busy"
	case KindRateLimited:
		return "RateLimited"
	default:
		return "Unknown"
	}
}

// AuthError is the single error type returned by session operations.
type AuthError struct {
	Kind    Kind
	Message string // human readable, safe to show
	Field   string // optional field key for targeted display
	Status  int    // HTTP status when the error came from the API, 0 otherwise
	Err     error  // underlying cause
}

func (e *AuthError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the sentinel that corresponds to the error kind.
func (e *AuthError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// New builds an AuthError of the given kind.
func New(kind Kind, msg string) *AuthError {
	return &AuthError{Kind: kind, Message: msg}
}

// Validation builds a field-scoped validation error.
func Validation(field, msg string) *AuthError {
	return &AuthError{Kind: KindValidation, Field: field, Message: msg}
}

// Normalize converts any error into an *AuthError. Context cancellation and
// deadline expiry count as network errors because they abort the transport.
func Normalize(err error) *AuthError {
	if err == nil {
		return nil
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &AuthError{Kind: KindNetwork, Message: "request cancelled or timed out", Err: err}
	case errors.Is(err, ErrBusy):
		return &AuthError{Kind: KindBusy, Message: "another operation is in progress", Err: err}
	case errors.Is(err, ErrRateLimited):
		return &AuthError{Kind: KindRateLimited, Message: "too many attempts, try again later", Err: err}
	case errors.Is(err, ErrUnauthorized):
		return &AuthError{Kind: KindUnauthorized, Message: "not authenticated", Err: err}
	case errors.Is(err, ErrNetwork):
		return &AuthError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	return &AuthError{Kind: KindUnknown, Message: "An unexpected error occurred. Please try again.", Err: err}
}

// KindOf reports the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
