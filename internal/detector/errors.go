package detector

import "errors"

// Sentinel errors for detector operations.
var (
	// ErrStopped is returned when a driver has already been stopped.
	ErrStopped = errors.New("detector: driver stopped")

	// ErrQueueFull is returned when a control message cannot be posted
	// because the channel has no free slot.
	ErrQueueFull = errors.New("detector: queue full")

	// ErrExitTimeout is returned by Close when the actor did not exit
	// within the bounded wait.
	ErrExitTimeout = errors.New("detector: actor did not exit in time")

	// ErrNoBackend is returned when a driver is created without a backend.
	ErrNoBackend = errors.New("detector: backend is required")

	// ErrUnknownHost is returned by the simulator for hostnames it does not know.
	ErrUnknownHost = errors.New("detector: unknown host")
)
