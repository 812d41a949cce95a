package mqtt

import "errors"

// Sentinels returned by the bridge's broker client. Operations wrap them,
// so match with errors.Is.
var (
	// ErrNotConnected means the broker link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrTimeout is wrapped alongside the operation's failure sentinel when
	// the broker does not complete a token in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
