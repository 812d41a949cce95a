package slsdet

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-slsdet/internal/port"
)

// Protocol is the protocol segment of every slsdet topic.
const Protocol = "slsdet"

// CommandMessage asks the bridge to write a detector parameter.
// Topic: graylogic/command/slsdet/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. The bridge
	// assigns one when it is empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Param is the parameter name, e.g. "SLS_HIGH_VOLTAGE".
	Param string `json:"param"`

	// Value is converted to the parameter type; whole JSON numbers are
	// accepted for int32 parameters.
	Value any `json:"value"`

	// Source indicates where the command originated ("api", "operator", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the detector accepted the write.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the detector did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/slsdet/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   int       `json:"address"`
	Param     string    `json:"param"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands and requests.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeDeviceFailed      = "DEVICE_FAILED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries changed parameter values of one address.
// Topic: graylogic/state/slsdet/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Port      string         `json:"port"`
	Address   int            `json:"address"`
	Hostname  string         `json:"hostname"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
}

// Request actions.
const (
	ActionRead       = "read"
	ActionReadAll    = "read_all"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// RequestMessage asks the bridge for a read or a connection change.
// Topic: graylogic/request/slsdet/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of read, read_all, connect, disconnect.
	Action string `json:"action"`

	Address int    `json:"address"`
	Param   string `json:"param,omitempty"`
}

// ResponseMessage answers a request.
// Topic: graylogic/response/slsdet/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is only ever published by the broker, from the will.
	HealthOffline HealthStatus = "offline"

	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/slsdet
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Detectors     *DetectorCounts   `json:"detectors,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// DetectorCounts summarises the connection state of a port.
type DetectorCounts struct {
	Port      string `json:"port"`
	Total     int    `json:"total"`
	Connected int    `json:"connected"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived uint64 `json:"commands_received"`
	RequestsReceived uint64 `json:"requests_received"`
	StatesPublished  uint64 `json:"states_published"`
	Errors           uint64 `json:"errors"`
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, address int, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
		Param:     cmd.Param,
	}
}

// NewAckError creates a failed acknowledgement. TIMEOUT maps to AckTimeout.
func NewAckError(cmd CommandMessage, address int, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, address, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for an address.
func NewStateMessage(portName string, address int, hostname string, state map[string]any) StateMessage {
	return StateMessage{
		Port:      portName,
		Address:   address,
		Hostname:  hostname,
		Timestamp: time.Now().UTC(),
		State:     state,
		Protocol:  Protocol,
	}
}

// NewLWTMessage is the health message the broker publishes when the
// bridge disconnects without a clean shutdown.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

func errorResponse(requestID, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

func successResponse(requestID string, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// ErrorCode maps a port error to an ack/response error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, port.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, port.ErrDisconnected):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, port.ErrFailed):
		return ErrCodeDeviceFailed
	case errors.Is(err, port.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, port.ErrUnknownParam), errors.Is(err, port.ErrBadAddress):
		return ErrCodeNotConfigured
	case errors.Is(err, port.ErrReadOnly):
		return ErrCodeInvalidCommand
	case errors.Is(err, port.ErrInvalid), errors.Is(err, port.ErrWrongType):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeBridgeError
	}
}

// Topic helpers

var topics = mqtt.Topics{}

// TopicPrefix is the base topic for all messages.
const TopicPrefix = mqtt.TopicPrefixBridge

// CommandTopic returns the command topic of an address.
// Example: graylogic/command/slsdet/0
func CommandTopic(address int) string {
	return topics.BridgeCommand(Protocol, strconv.Itoa(address))
}

// AckTopic returns the acknowledgement topic of an address.
func AckTopic(address int) string {
	return topics.BridgeAck(Protocol, strconv.Itoa(address))
}

// StateTopic returns the retained state topic of an address.
func StateTopic(address int) string {
	return topics.BridgeState(Protocol, strconv.Itoa(address))
}

// HealthTopic returns the bridge health topic.
// Example: graylogic/health/slsdet
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// RequestTopic returns the topic of a request.
func RequestTopic(requestID string) string {
	return topics.BridgeRequest(Protocol, requestID)
}

// ResponseTopic returns the topic a response is published on.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// CommandSubscribeTopic matches every command topic.
func CommandSubscribeTopic() string {
	return topics.BridgeCommand(Protocol, "+")
}

// RequestSubscribeTopic matches every request topic.
func RequestSubscribeTopic() string {
	return topics.BridgeRequest(Protocol, "+")
}

// parseTopicAddress extracts the address from the last topic segment.
func parseTopicAddress(segment string) (int, error) {
	addr, err := strconv.Atoi(segment)
	if err != nil || addr < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, segment)
	}
	return addr, nil
}
