package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	// MeasurementDetector holds numeric detector parameters
	// (temperatures, high voltage, run status, ...).
	MeasurementDetector = "detector"

	// MeasurementConnection holds per-address connection transitions.
	MeasurementConnection = "detector_connection"
)

// WriteReading records one numeric parameter value for a detector address.
// It is a no-op when the client is not connected.
//
// Example:
//
//	client.WriteReading("SLS1", 0, "SLS_FPGA_TEMP", 42.5, time.Now())
func (c *Client) WriteReading(port string, addr int, param string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(port, addr, param, value, ts))
}

// WriteConnection records a connect (true) or disconnect of an address.
func (c *Client) WriteConnection(port string, addr int, hostname string, connected bool) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectionPoint(port, addr, hostname, connected, time.Now()))
}

// WritePoint writes a custom point with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func readingPoint(port string, addr int, param string, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDetector,
		map[string]string{
			"port":    port,
			"address": strconv.Itoa(addr),
			"param":   param,
		},
		map[string]any{"value": value},
		ts,
	)
}

func connectionPoint(port string, addr int, hostname string, connected bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"port":     port,
			"address":  strconv.Itoa(addr),
			"hostname": hostname,
		},
		map[string]any{"connected": connected},
		ts,
	)
}
