package journal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// Defaults for the journal writer.
const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// ClientID and Server are stamped on every entry. A successful connect
	// overrides Server with the address the session actually dialled.
	ClientID string
	Server   string

	// MaxPayload truncates stored message bodies to this many bytes
	// (0 = unlimited).
	MaxPayload int

	// QueueSize bounds entries waiting to be written. Events arriving when
	// the queue is full are dropped and counted.
	QueueSize int

	// Logger receives write failures. Optional.
	Logger mqtt.Logger
}

// Sink is an mqtt.EventSink that journals every event.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Sink struct {
	repo       Repository
	clientID   string
	server     atomic.Pointer[string]
	maxPayload int
	logger     mqtt.Logger

	queue   chan Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewSink creates a Sink and starts its writer goroutine.
// Call Close to drain the queue and stop the writer.
func NewSink(repo Repository, opts SinkOptions) *Sink {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	s := &Sink{
		repo:       repo,
		clientID:   opts.ClientID,
		maxPayload: opts.MaxPayload,
		logger:     opts.Logger,
		queue:      make(chan Entry, size),
		done:       make(chan struct{}),
	}
	server := opts.Server
	s.server.Store(&server)

	go s.run()

	return s
}

// run writes queued entries until the queue is closed.
func (s *Sink) run() {
	defer close(s.done)

	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.repo.Create(ctx, &entry)
		cancel()

		if err != nil {
			if s.logger != nil {
				s.logger.Warn("journal write failed", "kind", entry.Kind, "error", err)
			}
			continue
		}
		s.written.Add(1)
	}
}

// Close stops accepting events, waits for queued entries to be written and
// stops the writer. Later calls return ErrSinkClosed.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return ErrSinkClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}

// Dropped returns the number of events discarded because the queue was full
// or the sink was closed.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Written returns the number of entries stored successfully.
func (s *Sink) Written() uint64 {
	return s.written.Load()
}

func (s *Sink) enqueue(entry Entry) {
	entry.ClientID = s.clientID
	if entry.Server == "" {
		entry.Server = *s.server.Load()
	}
	entry.CreatedAt = time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- entry:
	default:
		s.dropped.Add(1)
	}
}

// truncate cuts payload to maxPayload bytes without splitting a rune.
func (s *Sink) truncate(payload string) string {
	if s.maxPayload <= 0 || len(payload) <= s.maxPayload {
		return payload
	}
	return strings.ToValidUTF8(payload[:s.maxPayload], "")
}

// MessageArrived implements mqtt.EventSink.
func (s *Sink) MessageArrived(topic, message string, qos byte) {
	s.enqueue(Entry{
		Kind:    mqtt.EventMessageArrived.String(),
		Topic:   topic,
		Payload: s.truncate(message),
		QoS:     qos,
	})
}

// ConnectionLost implements mqtt.EventSink.
func (s *Sink) ConnectionLost(cause error) {
	s.enqueue(Entry{
		Kind:  mqtt.EventConnectionLost.String(),
		Error: errorString(cause),
	})
}

// DeliveryComplete implements mqtt.EventSink.
func (s *Sink) DeliveryComplete(token mqtt.DeliveryToken) {
	s.enqueue(Entry{
		Kind:      mqtt.EventDeliveryComplete.String(),
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
	s.enqueue(Entry{
		Kind:   mqtt.EventConnectSucceeded.String(),
		Server: token.ServerAddress,
	})
}

// ConnectFailed implements mqtt.EventSink.
func (s *Sink) ConnectFailed(token mqtt.ConnectToken, cause error) {
	s.enqueue(Entry{
		Kind:   mqtt.EventConnectFailed.String(),
		Server: token.ServerAddress,
		Error:  errorString(cause),
	})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
