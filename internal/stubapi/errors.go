package stubapi

import (
	"fmt"
	"net/http"
)

// Error is an API failure rendered as {"message","code","field"}.
type Error struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(field, msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "validation_error", Message: msg, Field: field}
}

func conflict(field, msg string) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Code: "already_exists", Message: msg, Field: field}
}

var (
	errInvalidCredentials = &Error{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid email or password"}
	errUnauthorized       = &Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Authentication required"}
	errInvalidRefresh     = &Error{Status: http.StatusUnauthorized, Code: "invalid_refresh_token", Message: "Session expired, please sign in again"}
	errInvalidCode        = &Error{Status: http.StatusBadRequest, Code: "invalid_code", Message: "Invalid or expired code", Field: "token"}
	errRateLimited        = &Error{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "Too many failed attempts, try again later"}
)
