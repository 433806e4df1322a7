package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SessionMeasurement is the measurement session events are written to.
const SessionMeasurement = "mqtt_session"

// SessionPoint is one session event in time-series form.
//
// Tags (indexed, low cardinality): client_id, server, event.
// Topics are stored as a field; they are unbounded.
type SessionPoint struct {
	ClientID string
	Server   string
	Event    string

	Topic        string
	QoS          byte
	PayloadBytes int
	MessageID    uint16
	Reconnect    bool
	Error        string

	Time time.Time
}

// WriteSessionPoint writes a session event. The write is non-blocking; data
// is batched and sent asynchronously.
//
// Example:
//
//	client.WriteSessionPoint(influxdb.SessionPoint{
//	    ClientID: "dev1", Server: "tcp://10.0.2.2:1883", Event: "message_arrived",
//	    Topic: "a", PayloadBytes: 4,
//	})
func (c *Client) WriteSessionPoint(p SessionPoint) {
	c.enqueue(newSessionPoint(p))
}

// newSessionPoint converts p to a line-protocol point.
func newSessionPoint(p SessionPoint) *write.Point {
	ts := p.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := map[string]interface{}{
		"count": int64(1),
		"qos":   int64(p.QoS),
	}
	if p.Topic != "" {
		fields["topic"] = p.Topic
	}
	if p.PayloadBytes > 0 {
		fields["payload_bytes"] = int64(p.PayloadBytes)
	}
	if p.MessageID != 0 {
		fields["message_id"] = int64(p.MessageID)
	}
	if p.Reconnect {
		fields["reconnect"] = true
	}
	if p.Error != "" {
		fields["error"] = p.Error
	}

	return write.NewPoint(
		SessionMeasurement,
		map[string]string{
			"client_id": p.ClientID,
			"server":    p.Server,
			"event":     p.Event,
		},
		fields,
		ts,
	)
}
