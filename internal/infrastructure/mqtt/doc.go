// Package mqtt provides the broker connection used by the detector bridge.
//
// It wraps paho.mqtt.golang with:
//   - auto-reconnect and subscription restore
//   - a retained Last Will and Testament plus online/offline payloads
//   - input validation (topic, QoS, payload size) and handler panic recovery
//
// # Usage
//
//	client, err := mqtt.ConnectWithWill(cfg.MQTT, will)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommand("slsdet", "+"), 1, handler)
package mqtt
