package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNetwork      = errors.New("cannot reach server")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a request the backend answered but rejected: a non-2xx status
// or an envelope with success=false.
type APIError struct {
	Status  int
	Message string
	Errors  json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, http.StatusText(e.Status))
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// MessageOf returns the text to show a user for err: the backend's message
// when it sent one, fallback otherwise.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrNetwork) {
		return "Cannot reach server"
	}
	return fallback
}

func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
