package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("control API rejected the token")

// ErrServerUnavailable is returned when no server answers at the address.
var ErrServerUnavailable = errors.New("control API is not running")

// APIError is a non-2xx response from the control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control API returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("control API returned %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match a 401.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// errorBody is the JSON error payload.
type errorBody struct {
	Error string `json:"error"`
}
