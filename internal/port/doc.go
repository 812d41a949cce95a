// Package port is the process-control front end for SLS detectors.
//
// A Port is configured with a '+'-separated hostname list and serves one
// address per hostname. Each address has a table of named parameters
// (SLS_HOSTNAME, SLS_FPGA_TEMP, SLS_CHIP_POWER, ...). Reading a parameter
// backed by a detector command sends that command through the address's
// detector.Driver; writing a setpoint sends the matching write command.
//
// Status mapping for detector replies:
//
//	Ok       value stored, nil error
//	Invalid  ErrInvalid
//	Failed   ErrFailed (address stays connected)
//	Timeout  ErrTimeout, address disconnected
//	other    ErrDisconnected, address disconnected
//
// Value changes are reported through the callback registered with
// SetOnUpdate; the MQTT bridge and the API use it to publish live state.
package port
