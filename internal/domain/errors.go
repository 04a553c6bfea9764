package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks bad or unknown settings. Fatal before any validator runs.
	ErrConfiguration = errors.New("configuration error")

	// ErrToolUnavailable means a validator's probe failed.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrToolMissing means a validator marked required could not be probed.
	ErrToolMissing = errors.New("required tool missing")

	ErrParseFailure = errors.New("parse failure")
	ErrTimeout      = errors.New("timeout exceeded")

	// ErrStoreWrite is surfaced as a non-fatal warning; it never changes a verdict.
	ErrStoreWrite = errors.New("statistics store write failed")

	ErrAlreadyRegistered = errors.New("validator already registered")
	ErrNotFound          = errors.New("not found")
)

// ConfigError formats a message and wraps ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
