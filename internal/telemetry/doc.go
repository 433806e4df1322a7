// Package telemetry turns MQTT session events into InfluxDB points.
//
// Sink implements mqtt.EventSink and writes one mqtt_session point per
// event through a PointWriter, normally *influxdb.Client. Writes are
// non-blocking, so the sink is safe to call from paho's goroutines.
package telemetry
