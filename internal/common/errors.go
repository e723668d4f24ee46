// Package common defines shared constants, sentinel errors and small helpers
// used across the server, the wire protocol and the client. Callers should use
// errors.Is to match the sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrorUnsupportedVersion is returned when a persisted record carries a
	// format version this build cannot read.
	ErrorUnsupportedVersion = errors.New("unsupported record version")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Lock errors.
	ErrorLocked = errors.New("account locked by another session")

	// File errors.
	ErrorQuotaExceeded = errors.New("quota exceeded")

	// Storage faults.
	ErrorInvalidID           = errors.New("invalid blob identifier")
	ErrorIdentifierExhausted = errors.New("blob identifier space exhausted")
)
