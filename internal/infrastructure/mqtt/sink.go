package mqtt

import (
	"sync/atomic"
	"time"
)

// EventSink receives session events.
//
// Methods are called from paho's goroutines or from the session's token
// watchers, never while the session holds its internal lock, so a sink may
// call back into the Session. Methods should not block for extended periods:
// MessageArrived runs on paho's message router and stalls delivery of later
// messages until it returns.
//
// Disconnect returns before paho tears the connection down and is safe from
// any method. Close waits for paho's disconnect, which waits for the router,
// so MessageArrived must not call Close directly; run it on another
// goroutine instead.
type EventSink interface {
	// MessageArrived is called for each message received on a subscribed filter.
	MessageArrived(topic, message string, qos byte)

	// ConnectionLost is called when the connection drops. cause matches
	// ErrConnectionLost for network loss and ErrDisconnectRequested after an
	// explicit Disconnect.
	ConnectionLost(cause error)

	// DeliveryComplete is called once paho reports an accepted publish as sent
	// (QoS 0) or acknowledged by the broker (QoS 1 and 2).
	DeliveryComplete(token DeliveryToken)

	// ConnectSucceeded is called when a connect attempt, or a reconnect made
	// by paho itself, completes.
	ConnectSucceeded(token ConnectToken)

	// ConnectFailed is called when a connect attempt fails.
	ConnectFailed(token ConnectToken, cause error)
}

// ConnectToken describes a completed connect attempt.
type ConnectToken struct {
	// ServerAddress is the broker the session dialled.
	ServerAddress string

	// ReturnCode is the CONNACK return code (0 on success).
	ReturnCode byte

	// SessionPresent reports whether the broker resumed a stored session.
	SessionPresent bool

	// Reconnect is true when paho reconnected on its own (auto-reconnect).
	Reconnect bool
}

// DeliveryToken describes a completed publish.
type DeliveryToken struct {
	Topic     string
	MessageID uint16
	QoS       byte
	Retained  bool
}

// EventKind identifies the variant held by an Event.
type EventKind uint8

// Event kinds, one per EventSink method.
const (
	EventMessageArrived EventKind = iota + 1
	EventConnectionLost
	EventDeliveryComplete
	EventConnectSucceeded
	EventConnectFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventMessageArrived:
		return "message_arrived"
	case EventConnectionLost:
		return "connection_lost"
	case EventDeliveryComplete:
		return "delivery_complete"
	case EventConnectSucceeded:
		return "connect_succeeded"
	case EventConnectFailed:
		return "connect_failed"
	default:
		return "unknown"
	}
}

// Event is a tagged variant of the five EventSink callbacks.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind
	Time time.Time

	// EventMessageArrived
	Topic    string
	Message  string
	QoS      byte
	Retained bool

	// EventDeliveryComplete
	Delivery DeliveryToken

	// EventConnectSucceeded, EventConnectFailed
	Connect ConnectToken

	// EventConnectionLost, EventConnectFailed
	Err error
}

// Deliver invokes the sink method matching e.Kind.
// Unknown kinds and a nil sink are ignored.
func (e Event) Deliver(sink EventSink) {
	if sink == nil {
		return
	}
	switch e.Kind {
	case EventMessageArrived:
		sink.MessageArrived(e.Topic, e.Message, e.QoS)
	case EventConnectionLost:
		sink.ConnectionLost(e.Err)
	case EventDeliveryComplete:
		sink.DeliveryComplete(e.Delivery)
	case EventConnectSucceeded:
		sink.ConnectSucceeded(e.Connect)
	case EventConnectFailed:
		sink.ConnectFailed(e.Connect, e.Err)
	}
}

// ChannelSink adapts EventSink to a channel of Events.
//
// When the buffer is full new events are dropped and counted rather than
// blocking paho's goroutines; size the buffer for the expected burst.
type ChannelSink struct {
	events  chan Event
	dropped atomic.Uint64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 0 {
		size = 0
	}
	return &ChannelSink{events: make(chan Event, size)}
}

// Events returns the receive side of the event channel.
// The channel is never closed.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped returns the number of events discarded because the buffer was full.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *ChannelSink) push(e Event) {
	e.Time = time.Now()
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

// MessageArrived implements EventSink.
func (s *ChannelSink) MessageArrived(topic, message string, qos byte) {
	s.push(Event{Kind: EventMessageArrived, Topic: topic, Message: message, QoS: qos})
}

// ConnectionLost implements EventSink.
func (s *ChannelSink) ConnectionLost(cause error) {
	s.push(Event{Kind: EventConnectionLost, Err: cause})
}

// DeliveryComplete implements EventSink.
func (s *ChannelSink) DeliveryComplete(token DeliveryToken) {
	s.push(Event{Kind: EventDeliveryComplete, Delivery: token, Topic: token.Topic, QoS: token.QoS})
}

// ConnectSucceeded implements EventSink.
func (s *ChannelSink) ConnectSucceeded(token ConnectToken) {
	s.push(Event{Kind: EventConnectSucceeded, Connect: token})
}

// ConnectFailed implements EventSink.
func (s *ChannelSink) ConnectFailed(token ConnectToken, cause error) {
	s.push(Event{Kind: EventConnectFailed, Connect: token, Err: cause})
}

// SinkFuncs implements EventSink with optional function fields.
// Nil fields are skipped.
type SinkFuncs struct {
	OnMessageArrived   func(topic, message string, qos byte)
	OnConnectionLost   func(cause error)
	OnDeliveryComplete func(token DeliveryToken)
	OnConnectSucceeded func(token ConnectToken)
	OnConnectFailed    func(token ConnectToken, cause error)
}

// MessageArrived implements EventSink.
func (f SinkFuncs) MessageArrived(topic, message string, qos byte) {
	if f.OnMessageArrived != nil {
		f.OnMessageArrived(topic, message, qos)
	}
}

// ConnectionLost implements EventSink.
func (f SinkFuncs) ConnectionLost(cause error) {
	if f.OnConnectionLost != nil {
		f.OnConnectionLost(cause)
	}
}

// DeliveryComplete implements EventSink.
func (f SinkFuncs) DeliveryComplete(token DeliveryToken) {
	if f.OnDeliveryComplete != nil {
		f.OnDeliveryComplete(token)
	}
}

// ConnectSucceeded implements EventSink.
func (f SinkFuncs) ConnectSucceeded(token ConnectToken) {
	if f.OnConnectSucceeded != nil {
		f.OnConnectSucceeded(token)
	}
}

// ConnectFailed implements EventSink.
func (f SinkFuncs) ConnectFailed(token ConnectToken, cause error) {
	if f.OnConnectFailed != nil {
		f.OnConnectFailed(token, cause)
	}
}

// MultiSink fans every event out to each sink in order. Nil entries are skipped.
type MultiSink []EventSink

// MessageArrived implements EventSink.
func (m MultiSink) MessageArrived(topic, message string, qos byte) {
	for _, s := range m {
		if s != nil {
			s.MessageArrived(topic, message, qos)
		}
	}
}

// ConnectionLost implements EventSink.
func (m MultiSink) ConnectionLost(cause error) {
	for _, s := range m {
		if s != nil {
			s.ConnectionLost(cause)
		}
	}
}

// DeliveryComplete implements EventSink.
func (m MultiSink) DeliveryComplete(token DeliveryToken) {
	for _, s := range m {
		if s != nil {
			s.DeliveryComplete(token)
		}
	}
}

// ConnectSucceeded implements EventSink.
func (m MultiSink) ConnectSucceeded(token ConnectToken) {
	for _, s := range m {
		if s != nil {
			s.ConnectSucceeded(token)
		}
	}
}

// ConnectFailed implements EventSink.
func (m MultiSink) ConnectFailed(token ConnectToken, cause error) {
	for _, s := range m {
		if s != nil {
			s.ConnectFailed(token, cause)
		}
	}
}
