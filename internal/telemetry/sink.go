package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqttsession/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// PointWriter accepts session points without blocking.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WriteSessionPoint(p influxdb.SessionPoint)
}

// Sink is an mqtt.EventSink that records one point per event.
type Sink struct {
	writer   PointWriter
	clientID string
	server   atomic.Pointer[string]

	// reconnect is set between a lost connection and the next successful
	// connect so the connect point can be marked as a reconnect.
	reconnect atomic.Bool

	now func() time.Time
}

// NewSink creates a Sink stamping clientID and server on every point.
func NewSink(writer PointWriter, clientID, server string) *Sink {
	s := &Sink{
		writer:   writer,
		clientID: clientID,
		now:      time.Now,
	}
	s.server.Store(&server)
	return s
}

func (s *Sink) write(p influxdb.SessionPoint) {
	p.ClientID = s.clientID
	if p.Server == "" {
		p.Server = *s.server.Load()
	}
	p.Time = s.now()
	s.writer.WriteSessionPoint(p)
}

// MessageArrived implements mqtt.EventSink.
func (s *Sink) MessageArrived(topic, message string, qos byte) {
	s.write(influxdb.SessionPoint{
		Event:        mqtt.EventMessageArrived.String(),
		Topic:        topic,
		QoS:          qos,
		PayloadBytes: len(message),
	})
}

// ConnectionLost implements mqtt.EventSink.
func (s *Sink) ConnectionLost(cause error) {
	s.reconnect.Store(true)
	p := influxdb.SessionPoint{Event: mqtt.EventConnectionLost.String()}
	if cause != nil {
		p.Error = cause.Error()
	}
	s.write(p)
}

// DeliveryComplete implements mqtt.EventSink.
func (s *Sink) DeliveryComplete(token mqtt.DeliveryToken) {
	s.write(influxdb.SessionPoint{
		Event:     mqtt.EventDeliveryComplete.String(),
		Topic:     token.Topic,
		QoS:       token.QoS,
		MessageID: token.MessageID,
	})
}

// ConnectSucceeded implements mqtt.EventSink.
func (s *Sink) ConnectSucceeded(token mqtt.ConnectToken) {
	if token.ServerAddress != "" {
		server := token.ServerAddress
		s.server.Store(&server)
	}
	reconnect := s.reconnect.Swap(false) || token.Reconnect
	s.write(influxdb.SessionPoint{
		Event:     mqtt.EventConnectSucceeded.String(),
		Server:    token.ServerAddress,
		Reconnect: reconnect,
	})
}

// ConnectFailed implements mqtt.EventSink.
func (s *Sink) ConnectFailed(token mqtt.ConnectToken, cause error) {
	p := influxdb.SessionPoint{
		Event:  mqtt.EventConnectFailed.String(),
		Server: token.ServerAddress,
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	s.write(p)
}
