package receiver

import "errors"

var (
	// ErrInvalidConfig is returned by New for an unusable configuration.
	ErrInvalidConfig = errors.New("receiver: invalid configuration")

	// ErrAlreadyRunning is returned by Start while the receiver is up.
	ErrAlreadyRunning = errors.New("receiver: already running")

	// ErrUnhealthy is wrapped into the exit error of a receiver that was
	// killed after repeated failed health checks.
	ErrUnhealthy = errors.New("receiver: health check failed")
)
