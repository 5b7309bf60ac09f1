package ridemap

import "errors"

var (
	// ErrSubscribed is returned by Subscribe when a sink is already active.
	ErrSubscribed = errors.New("ridemap: a subscriber is already active")

	// ErrClosed is returned for operations on a shut-down pipeline.
	ErrClosed = errors.New("ridemap: pipeline is closed")
)
