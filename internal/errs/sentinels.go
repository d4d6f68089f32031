// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across api/session/flow layers.
var (
	// ErrNotFound indicates the requested storage key or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique account attribute is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials indicates the server rejected the supplied email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized indicates an expired, invalid or missing token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNetwork indicates a transport or decode failure talking to the auth API.
	ErrNetwork = errors.New("network error")

	// ErrValidation indicates a field-scoped validation failure (local or server-reported).
	ErrValidation = errors.New("validation error")

	// ErrUnknown covers every failure that fits no other kind.
	ErrUnknown = errors.New("unknown error")

	// ErrBusy indicates another mutating session operation is in flight.
	ErrBusy = errors.New("operation in progress")

	// ErrRateLimited indicates temporary login lock due to repeated failures.
	ErrRateLimited = errors.New("rate limited")
)
