// Package influxdb records detector telemetry in InfluxDB.
//
// It wraps the influxdb-client-go v2 non-blocking write API. The bridge
// poll loop writes every numeric parameter it reads (temperatures, high
// voltage, run status) as a "detector" point tagged with port, address
// and parameter name, and connection transitions as "detector_connection"
// points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("SLS1", 0, "SLS_FPGA_TEMP", 42.5, time.Now())
//
// Telemetry is optional: when influxdb.enabled is false, Connect returns
// ErrDisabled and the bridge runs without it.
package influxdb
