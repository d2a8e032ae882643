// Package apperr defines the error taxonomy shared by the server and client.
// Callers wrap a sentinel with context using fmt.Errorf("...: %w", ErrX) and
// inspect with errors.Is.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrValidation marks a missing or malformed required field.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown trip code.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks a non-host relay or a non-participant update.
	ErrForbidden = errors.New("not allowed")
	// ErrTransport marks an unavailable real-time or HTTP channel. It triggers
	// fallback and is never shown to the end user.
	ErrTransport = errors.New("transport unavailable")
	// ErrCache marks the best-effort cache being unavailable. Always swallowed.
	ErrCache = errors.New("cache unavailable")
)

// Status maps an error to the HTTP status it should be reported with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message strips the sentinel suffix so "hostId is required: validation error"
// reads as "hostId is required".
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrValidation, ErrNotFound, ErrForbidden, ErrTransport, ErrCache} {
		msg = strings.TrimSuffix(msg, ": "+sentinel.Error())
	}
	return msg
}

// FromStatus is the client-side inverse of Status.
func FromStatus(code int) error {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return ErrValidation
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code >= 500:
		return ErrTransport
	case code >= 400:
		return ErrValidation
	default:
		return nil
	}
}
