package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrValidationFailed is returned when connection fields or scopes fail
	// catalog validation. User-correctable.
	ErrValidationFailed = errors.New("validation failed")

	// ErrUnsupportedConnectionType is returned when a connection type is not
	// registered in the catalog.
	ErrUnsupportedConnectionType = errors.New("unsupported connection type")

	// ErrConnectionNotUsable is returned when a connection is not in active
	// status (testing, failed, suspended, or revoked).
	ErrConnectionNotUsable = errors.New("connection not usable")

	// ErrMissingRequiredConnection is returned by the broker when one or more
	// required agent connections cannot be resolved.
	ErrMissingRequiredConnection = errors.New("missing required connection")

	// ErrNoUsableConnection is returned by the broker when no linked connection
	// type can satisfy the requested capability.
	ErrNoUsableConnection = errors.New("no usable connection for capability")

	// ErrProbeFailed is returned when a live connection test fails.
	ErrProbeFailed = errors.New("connection probe failed")

	// ErrRateLimited is returned when the security monitor is throttling an
	// action for a user.
	ErrRateLimited = errors.New("rate limited")

	// ErrCredentialsKeyMismatch indicates stored credentials were encrypted
	// with a different master key.
	ErrCredentialsKeyMismatch = errors.New("connection credentials were encrypted with a different key")
)
