// Package slsdet bridges an SLS detector port to MQTT.
//
// The bridge uses the flat graylogic topic scheme:
//
//	graylogic/command/slsdet/{address}    parameter writes (CommandMessage)
//	graylogic/ack/slsdet/{address}        write acknowledgements
//	graylogic/request/slsdet/{request_id} read, read_all, connect, disconnect
//	graylogic/response/slsdet/{request_id}
//	graylogic/state/slsdet/{address}      retained changed values
//	graylogic/health/slsdet               retained bridge health
//
// A poll loop connects disconnected addresses and reads every readable
// parameter of the connected ones, one goroutine per address. Changed
// values reach the bridge through HandleUpdate, which main wires to the
// port's update callback; they are published, recorded to history and
// written to telemetry.
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package slsdet
