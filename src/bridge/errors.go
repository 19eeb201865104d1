package bridge

import (
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable classification of a bridge
// failure. Kinds map 1:1 to HTTP status codes for transport.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindBadRequest   ErrorKind = "bad_request"
	KindNotFound     ErrorKind = "not_found"
	KindServerError  ErrorKind = "server_error"
)

// APIError is a structured bridge failure the caller must act on.
type APIError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// NewAPIError builds an APIError from a kind, deriving the status code.
func NewAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{StatusCode: kindToStatus(kind), Kind: kind, Message: message}
}

func kindToStatus(kind ErrorKind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func statusToKind(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusBadRequest:
		return KindBadRequest
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindServerError
	}
}
