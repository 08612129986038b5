// Package influxdb writes node telemetry to InfluxDB.
//
// Classified command events from the event bridge and route changes from the
// reconciler become points in the command_event and route_change
// measurements. Writes are batched and non-blocking; telemetry is optional
// and a node without InfluxDB runs unchanged.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
package influxdb
