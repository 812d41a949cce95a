package slsdet

import "errors"

// Domain errors for the slsdet bridge package.
var (
	// ErrInvalidTopic is returned when a topic does not follow the
	// graylogic/{category}/slsdet/{id} scheme.
	ErrInvalidTopic = errors.New("slsdet: invalid topic")

	// ErrInvalidMessage is returned when a payload cannot be decoded.
	ErrInvalidMessage = errors.New("slsdet: invalid message")

	// ErrUnknownAction is returned for request actions the bridge does
	// not implement.
	ErrUnknownAction = errors.New("slsdet: unknown action")
)
