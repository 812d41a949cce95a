package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps message payloads at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends a message to topic.
//
// Use retained for state and health topics so new subscribers see the
// last value; never for commands or acks.
//
// Example:
//
//	topic := mqtt.Topics{}.BridgeAck("slsdet", "0")
//	err := client.Publish(topic, payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	return awaitToken(token, defaultPublishTimeout, ErrPublishFailed)
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// awaitToken waits up to timeout for token. A timeout wraps both failed
// and ErrTimeout; a broker error wraps failed.
func awaitToken(token pahomqtt.Token, timeout time.Duration, failed error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", failed, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}
