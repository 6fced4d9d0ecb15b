package scgi

import "errors"

// Sentinel errors for SCGI server communication.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the SCGI server cannot be reached.
	ErrConnectionFailed = errors.New("scgi: connection failed")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("scgi: request timed out")

	// ErrInvalidResponse is returned for non-200 replies and undecodable XML.
	ErrInvalidResponse = errors.New("scgi: invalid response")

	// ErrEmptyResponse is returned when a reply carries no variables at all.
	ErrEmptyResponse = errors.New("scgi: empty response")

	// ErrPLCNotFound is returned by a full update when the server does not
	// know the configured PLC address.
	ErrPLCNotFound = errors.New("scgi: plc not found")

	// ErrInvalidConfig is returned by NewClient for unusable settings.
	ErrInvalidConfig = errors.New("scgi: invalid config")
)
