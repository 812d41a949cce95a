package influxdb

import "errors"

// Sentinels for the detector reading sink.
//
//	if errors.Is(err, influxdb.ErrWriteFailed) {
//	    // a batch of readings was lost
//	}
var (
	// ErrNotConnected is reported by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps every asynchronous batch error handed to the
	// callback registered with SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when the sink is off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
