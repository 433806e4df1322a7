// Package influxdb provides InfluxDB connectivity for session telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, non-blocking batched writes, and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteSessionPoint(influxdb.SessionPoint{ClientID: "dev1", Event: "connect_succeeded"})
//
// # Error Handling
//
// Writes never block or return errors; batch failures are delivered to the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
