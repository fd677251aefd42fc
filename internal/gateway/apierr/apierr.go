package apierr

import (
	"encoding/json"
	"net/http"
)

// Error types surfaced on the wire. Every rejection the gateway produces
// carries one of these in the error envelope.
const (
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeRateLimit      = "rate_limit_error"
	TypeAPI            = "api_error"
)

// Error is the structured error envelope returned to callers.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error with the given wire type and HTTP status code.
func New(errType string, code int, message string) *Error {
	return &Error{Message: message, Type: errType, Code: code}
}

// Write serializes the error envelope to the response with its status code.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(map[string]*Error{"error": e})
}

// Authentication returns a 401 authentication_error.
func Authentication(message string) *Error {
	return New(TypeAuthentication, http.StatusUnauthorized, message)
}

// Permission returns a 403 permission_error.
func Permission(message string) *Error {
	return New(TypePermission, http.StatusForbidden, message)
}

// RateLimit returns a 429 rate_limit_error.
func RateLimit(message string) *Error {
	return New(TypeRateLimit, http.StatusTooManyRequests, message)
}

// Internal returns a generic 500 api_error. Details are logged server-side
// only, never echoed to the caller.
func Internal() *Error {
	return New(TypeAPI, http.StatusInternalServerError, "internal server error")
}

// Upstream returns a 502 api_error for exhausted provider candidates.
func Upstream(message string) *Error {
	return New(TypeAPI, http.StatusBadGateway, message)
}
