package delay

import "errors"

var (
	// ErrNotConfigured is returned when no delay configuration exists.
	ErrNotConfigured = errors.New("announcement delay is not configured")
	// ErrInvalidConfig is returned for negative or oversized delay bounds.
	ErrInvalidConfig = errors.New("invalid delay config")
)
