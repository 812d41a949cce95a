package port

import "errors"

// Status errors returned by parameter reads and writes.
var (
	// ErrTimeout is returned when the detector did not answer in time.
	// The address is marked disconnected.
	ErrTimeout = errors.New("port: detector request timed out")

	// ErrDisconnected is returned when the address is not connected, or
	// when the detector replied with an error. In the latter case the
	// address is marked disconnected.
	ErrDisconnected = errors.New("port: detector disconnected")

	// ErrInvalid is returned when the detector rejected the request.
	ErrInvalid = errors.New("port: invalid detector request")

	// ErrFailed is returned when the detector reported a failure for this
	// address only. The address stays connected.
	ErrFailed = errors.New("port: detector operation failed")

	// ErrProtocol is returned when an Ok reply carries no usable value.
	ErrProtocol = errors.New("port: unexpected reply payload")

	// ErrDisabled is returned when the port is shut down or the driver for
	// an address could not be created.
	ErrDisabled = errors.New("port: disabled")
)

// Lookup errors.
var (
	// ErrUnknownParam is returned for parameter names not in the table.
	ErrUnknownParam = errors.New("port: unknown parameter")

	// ErrBadAddress is returned for addresses outside the port.
	ErrBadAddress = errors.New("port: address out of range")

	// ErrReadOnly is returned when writing a parameter that cannot be set.
	ErrReadOnly = errors.New("port: parameter is read-only")

	// ErrWrongType is returned when the value type does not match the parameter.
	ErrWrongType = errors.New("port: wrong parameter type")

	// ErrUndefined is returned when a parameter has never been set.
	ErrUndefined = errors.New("port: parameter has no value")

	// ErrNoHostnames is returned when the hostname list is empty.
	ErrNoHostnames = errors.New("port: no detector hostnames")
)
