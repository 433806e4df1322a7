package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Session manages one MQTT session on top of a paho client.
//
// It provides connection lifecycle management, asynchronous publishing and
// subscribing, and bridges paho callbacks to the registered EventSink.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Connect, Disconnect and Close are serialised with each other.
//   - No method waits for a network round trip except Close, which waits
//     briefly for paho to release the connection.
type Session struct {
	cfg    Config
	client pahomqtt.Client

	// mu serialises state changes: Connect, Disconnect, Close, and the
	// transitions driven by paho callbacks.
	mu    sync.Mutex
	state stateMachine

	// attempt is bumped whenever an in-flight connect must be ignored.
	// Guarded by mu.
	attempt uint64

	// transportOpen is true between issuing a connect and issuing a
	// disconnect. Guarded by mu.
	transportOpen bool

	// pendingDisconnect is closed when the last transport disconnect returns.
	// Guarded by mu.
	pendingDisconnect chan struct{}

	// reconnecting is set while paho is reconnecting on its own.
	reconnecting atomic.Bool

	// sink is the consumer registered by the latest Connect.
	sink atomic.Pointer[sinkRef]

	// done is closed by Close and releases token watchers.
	done chan struct{}

	// stopWatch detaches the Config context watcher. Guarded by mu.
	stopWatch func() bool

	logger   Logger
	loggerMu sync.RWMutex
}

// sinkRef boxes an EventSink so it can be stored in an atomic.Pointer.
type sinkRef struct {
	sink EventSink
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// clientFactory creates the paho client. Replaced in tests.
type clientFactory func(*pahomqtt.ClientOptions) pahomqtt.Client

// New creates a Session from a Config produced by Builder.Build.
//
// The paho client is created but not connected; call Connect to dial.
// When the Config's context is cancelled the session is closed.
//
// Returns:
//   - *Session: Disconnected session
//   - error: ErrInvalidConfig if cfg did not come from Builder.Build
func New(cfg Config) (*Session, error) {
	return newSession(cfg, pahomqtt.NewClient)
}

func newSession(cfg Config, factory clientFactory) (*Session, error) {
	if cfg.ctx == nil || cfg.serverAddress == "" || cfg.clientID == "" {
		return nil, fmt.Errorf("%w: config must be created with Builder.Build", ErrInvalidConfig)
	}

	s := &Session{
		cfg:  cfg,
		done: make(chan struct{}),
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.log().Info("MQTT reconnecting", "server", cfg.serverAddress)
	})
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleMessage(msg)
	})

	s.client = factory(opts)

	s.mu.Lock()
	s.stopWatch = context.AfterFunc(cfg.ctx, func() {
		s.log().Info("MQTT session context done, closing")
		_ = s.Close() //nolint:errcheck // Close never fails
	})
	s.mu.Unlock()

	return s, nil
}

// Config returns the configuration the session was created with.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current connection state.
func (s *Session) State() State {
	return s.state.get()
}

// Connect registers sink as the active EventSink and, when the session is
// disconnected, starts an asynchronous connect.
//
// If a connect is already in progress or the session is connected, no new
// connect is issued, but the sink replacement still takes effect: all later
// events go to the new sink. The outcome of the connect is reported through
// ConnectSucceeded or ConnectFailed.
//
// Parameters:
//   - sink: Consumer for session events (nil drops events)
//
// Returns:
//   - error: ErrSessionClosed after Close, nil otherwise
func (s *Session) Connect(sink EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.isClosed() {
		return ErrSessionClosed
	}

	s.sink.Store(&sinkRef{sink: sink})

	if !s.state.transition(StateDisconnected, StateConnecting) {
		s.log().Debug("MQTT connect skipped, session already active", "state", s.state.get().String())
		return nil
	}

	s.attempt++
	attempt := s.attempt
	s.transportOpen = true

	s.log().Info("MQTT connecting", "config", s.cfg)

	if pending := s.pendingDisconnect; pending != nil {
		select {
		case <-pending:
			s.pendingDisconnect = nil
		default:
			// paho rejects a connect while its disconnect is still running.
			go s.connectAfter(pending, attempt)
			return nil
		}
	}

	s.issueConnect(attempt)
	return nil
}

// issueConnect hands the connect to paho. Caller must hold s.mu.
func (s *Session) issueConnect(attempt uint64) {
	token := s.client.Connect()
	go s.awaitConnect(attempt, token)
}

// connectAfter issues a deferred connect once the previous disconnect returns.
func (s *Session) connectAfter(pending <-chan struct{}, attempt uint64) {
	select {
	case <-pending:
	case <-s.done:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt != s.attempt {
		return
	}
	s.issueConnect(attempt)
}

// awaitConnect waits for the connect token and applies the result.
func (s *Session) awaitConnect(attempt uint64, token pahomqtt.Token) {
	select {
	case <-token.Done():
	case <-s.done:
		return
	}

	err := token.Error()
	ct := ConnectToken{ServerAddress: s.cfg.serverAddress}
	if connToken, ok := token.(*pahomqtt.ConnectToken); ok {
		ct.ReturnCode = connToken.ReturnCode()
		ct.SessionPresent = connToken.SessionPresent()
	}

	s.mu.Lock()
	if attempt != s.attempt || s.state.get() != StateConnecting {
		s.mu.Unlock()
		s.log().Debug("MQTT dropping stale connect result", "error", err)
		return
	}
	if err != nil {
		s.state.set(StateDisconnected)
	} else {
		s.state.set(StateConnected)
	}
	s.mu.Unlock()

	if err != nil {
		cause := fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		s.log().Warn("MQTT connect failed",
			"server", s.cfg.serverAddress,
			"return_code", ct.ReturnCode,
			"error", err,
		)
		s.dispatch(Event{Kind: EventConnectFailed, Connect: ct, Err: cause})
		return
	}

	s.log().Info("MQTT connected",
		"server", s.cfg.serverAddress,
		"client_id", s.cfg.clientID,
		"session_present", ct.SessionPresent,
	)
	s.publishStatus("online", "")
	s.dispatch(Event{Kind: EventConnectSucceeded, Connect: ct})
}

// handleConnect is paho's OnConnect hook. The initial connect is handled by
// awaitConnect; this only acts on reconnects made by paho itself.
func (s *Session) handleConnect() {
	if !s.reconnecting.Load() {
		return
	}
	s.completeReconnect()
}

// completeReconnect moves a reconnecting session back to Connected. Only the
// first caller after a loss dispatches ConnectSucceeded.
func (s *Session) completeReconnect() {
	s.mu.Lock()
	if !s.reconnecting.CompareAndSwap(true, false) || !s.state.transition(StateConnecting, StateConnected) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.log().Info("MQTT reconnected", "server", s.cfg.serverAddress)
	s.publishStatus("online", "")
	s.dispatch(Event{
		Kind:    EventConnectSucceeded,
		Connect: ConnectToken{ServerAddress: s.cfg.serverAddress, Reconnect: true},
	})
}

// handleConnectionLost is paho's ConnectionLost hook.
func (s *Session) handleConnectionLost(err error) {
	s.mu.Lock()
	st := s.state.get()
	if st == StateClosed || st == StateDisconnected {
		s.mu.Unlock()
		s.log().Debug("MQTT ignoring connection loss", "state", st.String(), "error", err)
		return
	}
	s.attempt++
	if s.cfg.autoReconnect {
		// paho keeps the transport and retries; Connect stays a no-op until it settles.
		s.reconnecting.Store(true)
		s.state.set(StateConnecting)
	} else {
		s.state.set(StateDisconnected)
	}
	s.mu.Unlock()

	cause := ErrConnectionLost
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	s.log().Warn("MQTT connection lost",
		"server", s.cfg.serverAddress,
		"auto_reconnect", s.cfg.autoReconnect,
		"error", err,
	)
	s.dispatch(Event{Kind: EventConnectionLost, Err: cause})

	// paho starts its reconnect goroutine before this hook, so OnConnect may
	// already have fired and been ignored.
	if s.cfg.autoReconnect && s.transportUp() {
		s.completeReconnect()
	}
}

// transportUp reports whether paho holds an open connection, recovering
// transport panics as not open.
func (s *Session) transportUp() (open bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("MQTT transport panic in connection check", "panic", r)
			open = false
		}
	}()
	return s.client.IsConnectionOpen()
}

// handleMessage is paho's default publish handler. Every subscription is made
// without a per-topic callback, so all messages arrive here.
func (s *Session) handleMessage(msg pahomqtt.Message) {
	payload := msg.Payload()
	s.log().Debug("MQTT message arrived",
		"topic", msg.Topic(),
		"qos", msg.Qos(),
		"retained", msg.Retained(),
		"bytes", len(payload),
	)
	s.dispatch(Event{
		Kind:     EventMessageArrived,
		Topic:    msg.Topic(),
		Message:  string(payload),
		QoS:      msg.Qos(),
		Retained: msg.Retained(),
	})
}

// dispatch delivers ev to the sink registered at call time.
func (s *Session) dispatch(ev Event) {
	if s.state.isClosed() {
		s.log().Debug("MQTT session closed, dropping event", "event", ev.Kind.String())
		return
	}

	ref := s.sink.Load()
	if ref == nil || ref.sink == nil {
		s.log().Debug("MQTT no event sink registered, dropping event", "event", ev.Kind.String())
		return
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			s.log().Error("MQTT event sink panic recovered",
				"event", ev.Kind.String(),
				"panic", r,
			)
		}
	}()

	ev.Deliver(ref.sink)
}

// Disconnect starts an asynchronous disconnect.
//
// It is valid from Connected or Connecting; from Disconnected it does
// nothing. The session moves to Disconnected immediately, any in-flight
// connect is abandoned, and the sink receives ConnectionLost with
// ErrDisconnectRequested. paho does not auto-reconnect after this.
//
// Returns:
//   - error: ErrSessionClosed after Close, nil otherwise
func (s *Session) Disconnect() error {
	s.mu.Lock()
	prev := s.state.get()
	switch prev {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateDisconnected:
		s.mu.Unlock()
		s.log().Debug("MQTT disconnect skipped, not connected")
		return nil
	}

	s.attempt++
	s.reconnecting.Store(false)
	s.state.set(StateDisconnected)
	s.transportOpen = false

	pending := make(chan struct{})
	s.pendingDisconnect = pending
	s.mu.Unlock()

	s.log().Info("MQTT disconnecting", "server", s.cfg.serverAddress)

	go func() {
		defer close(pending)
		if prev == StateConnected {
			s.publishStatusSync("offline", "graceful_disconnect")
		}
		s.client.Disconnect(defaultDisconnectQuiesce)
	}()

	s.dispatch(Event{Kind: EventConnectionLost, Err: ErrDisconnectRequested})
	return nil
}

// Close permanently shuts the session down.
//
// It performs:
//  1. Moves to Closed and clears the sink so no further events are delivered
//  2. Abandons any in-flight connect and fails pending Acks
//  3. Publishes graceful offline status (if a status topic is set and connected)
//  4. Disconnects paho, stopping its reconnect loop
//
// Close is idempotent; later calls return nil without side effects.
//
// Returns:
//   - error: Always nil
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state.isClosed() {
		s.mu.Unlock()
		return nil
	}

	prev := s.state.get()
	s.state.set(StateClosed)
	s.attempt++
	s.reconnecting.Store(false)
	s.sink.Store(nil)

	release := s.transportOpen
	s.transportOpen = false
	pending := s.pendingDisconnect
	s.pendingDisconnect = nil
	stopWatch := s.stopWatch
	s.stopWatch = nil

	close(s.done)
	s.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}

	if pending != nil {
		<-pending
	}

	if release {
		if prev == StateConnected {
			s.publishStatusSync("offline", "graceful_shutdown")
		}
		s.client.Disconnect(defaultDisconnectQuiesce)
	}

	s.log().Info("MQTT session closed", "client_id", s.cfg.clientID)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if s.state.isClosed() {
		return ErrSessionClosed
	}
	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the session is connected.
//
// A panic raised by the transport while querying is recovered and reported
// as not connected.
func (s *Session) IsConnected() bool {
	if s.state.get() != StateConnected {
		return false
	}
	return s.transportUp()
}

// SetLogger sets a logger for session logging.
// If not set, the session logs nothing.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// log returns the current logger, never nil.
func (s *Session) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	if s.logger == nil {
		return nopLogger{}
	}
	return s.logger
}

// publishStatus publishes a retained status message without waiting.
func (s *Session) publishStatus(status, reason string) {
	if s.cfg.statusTopic == "" {
		return
	}
	payload := buildStatusPayload(s.cfg.clientID, status, reason)
	token := s.client.Publish(s.cfg.statusTopic, statusQoS, true, payload)
	go func() {
		select {
		case <-token.Done():
		case <-s.done:
			return
		}
		if err := token.Error(); err != nil {
			s.log().Warn("MQTT status publish failed", "status", status, "error", err)
		}
	}()
}

// publishStatusSync publishes a retained status message and waits briefly
// for it to leave, so it precedes the disconnect.
func (s *Session) publishStatusSync(status, reason string) {
	if s.cfg.statusTopic == "" {
		return
	}
	payload := buildStatusPayload(s.cfg.clientID, status, reason)
	token := s.client.Publish(s.cfg.statusTopic, statusQoS, true, payload)
	if !token.WaitTimeout(defaultStatusTimeout) {
		s.log().Warn("MQTT status publish timed out", "status", status)
		return
	}
	if err := token.Error(); err != nil {
		s.log().Warn("MQTT status publish failed", "status", status, "error", err)
	}
}
