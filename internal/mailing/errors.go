// Package mailing is the application layer for provider credentials and
// send requests. It validates input, persists state and hands work to the
// delivery queue; it knows nothing about HTTP.
package mailing

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means the user has no stored provider credential.
var ErrNotConfigured = errors.New("email configuration not found")

// ValidationError rejects a request before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
