package service

import "errors"

var (
	// ErrNotStarted is returned by operations invoked before Start.
	ErrNotStarted = errors.New("service not started")

	// errSkipped aborts an announcement transaction that has nothing to do.
	errSkipped = errors.New("announcement skipped")
)
