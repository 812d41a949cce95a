package mqtt

import "fmt"

// Topic prefixes. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{address_or_id}.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("slsdet", "0") // graylogic/state/slsdet/0
type Topics struct{}

// BridgeState is where a bridge publishes retained state.
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand carries commands to a bridge.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck carries command acknowledgements from a bridge.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeRequest carries requests to a bridge.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse carries request responses from a bridge.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth is the retained health topic of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// SystemStatus is the retained process status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
