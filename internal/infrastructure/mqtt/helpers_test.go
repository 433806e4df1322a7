package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// eventTimeout bounds every wait for an asynchronous event in tests.
const eventTimeout = 2 * time.Second

// =============================================================================
// Fake paho client
// =============================================================================

// fakeToken is a manually completed pahomqtt.Token.
type fakeToken struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
	token    *fakeToken
}

type subscribeCall struct {
	filters map[string]byte
	token   *fakeToken
}

// fakeClient implements pahomqtt.Client and records every call.
// Simulation helpers drive the callbacks captured from the options.
type fakeClient struct {
	mu   sync.Mutex
	opts *pahomqtt.ClientOptions

	open           bool
	panicOnQuery   bool
	autoComplete   bool
	connectTokens  []*fakeToken
	publishes      []publishCall
	subscribes     []subscribeCall
	unsubscribes   [][]string
	disconnects    int
	disconnectHook func()
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnQuery {
		panic("transport exploded")
	}
	return f.open
}

func (f *fakeClient) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := newFakeToken()
	f.connectTokens = append(f.connectTokens, tok)
	return tok
}

func (f *fakeClient) Disconnect(_ uint) {
	f.mu.Lock()
	f.disconnects++
	f.open = false
	hook := f.disconnectHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tok := newFakeToken()
	if f.autoComplete {
		tok.finish(nil)
	}
	f.publishes = append(f.publishes, publishCall{topic: topic, qos: qos, retained: retained, payload: body, token: tok})
	return tok
}

func (f *fakeClient) Subscribe(topic string, qos byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	return f.SubscribeMultiple(map[string]byte{topic: qos}, nil)
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := newFakeToken()
	if f.autoComplete {
		tok.finish(nil)
	}
	f.subscribes = append(f.subscribes, subscribeCall{filters: filters, token: tok})
	return tok
}

func (f *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := newFakeToken()
	tok.finish(nil)
	f.unsubscribes = append(f.unsubscribes, topics)
	return tok
}

func (f *fakeClient) AddRoute(_ string, _ pahomqtt.MessageHandler) {}

func (f *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// transportCalls counts every call that would reach the broker.
func (f *fakeClient) transportCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connectTokens) + len(f.publishes) + len(f.subscribes) + len(f.unsubscribes)
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connectTokens)
}

func (f *fakeClient) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeClient) publishCalls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.publishes...)
}

func (f *fakeClient) subscribeCalls() []subscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeCall(nil), f.subscribes...)
}

// completeConnect finishes connect attempt i.
func (f *fakeClient) completeConnect(t *testing.T, i int, err error) {
	t.Helper()
	f.mu.Lock()
	if i >= len(f.connectTokens) {
		f.mu.Unlock()
		t.Fatalf("connect attempt %d was never issued (have %d)", i, len(f.connectTokens))
	}
	tok := f.connectTokens[i]
	f.open = err == nil
	f.mu.Unlock()
	tok.finish(err)
}

// loseConnection simulates paho's ConnectionLost callback.
func (f *fakeClient) loseConnection(err error) {
	f.mu.Lock()
	f.open = false
	handler := f.opts.OnConnectionLost
	f.mu.Unlock()
	handler(f, err)
}

// connectionLostAfterReconnect fires paho's ConnectionLost callback without
// closing the transport, as when the first reconnect attempt wins the race
// against the loss hook.
func (f *fakeClient) connectionLostAfterReconnect(err error) {
	f.mu.Lock()
	handler := f.opts.OnConnectionLost
	f.mu.Unlock()
	handler(f, err)
}

// reconnect simulates paho's OnConnect callback after an automatic reconnect.
func (f *fakeClient) reconnect() {
	f.mu.Lock()
	f.open = true
	handler := f.opts.OnConnect
	f.mu.Unlock()
	handler(f)
}

// deliver simulates an incoming message on the default publish handler.
func (f *fakeClient) deliver(topic, payload string, qos byte, retained bool) {
	f.mu.Lock()
	handler := f.opts.DefaultPublishHandler
	f.mu.Unlock()
	handler(f, &fakeMessage{topic: topic, payload: []byte(payload), qos: qos, retained: retained})
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return m.retained }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// =============================================================================
// Session helpers
// =============================================================================

// testBuilder returns a builder for the reference test broker.
func testBuilder() *Builder {
	return NewBuilder().
		ServerAddress("tcp://10.0.2.2:1883").
		ClientID("dev1").
		KeepAliveInterval(20)
}

// newTestSession builds a Session backed by a fakeClient.
func newTestSession(t *testing.T, b *Builder) (*Session, *fakeClient) {
	t.Helper()
	return newTestSessionWithContext(t, context.Background(), b)
}

func newTestSessionWithContext(t *testing.T, ctx context.Context, b *Builder) (*Session, *fakeClient) {
	t.Helper()

	cfg, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	fc := &fakeClient{}
	s, err := newSession(cfg, func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		fc.opts = opts
		return fc
	})
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s, fc
}

// connectSession connects s and waits for ConnectSucceeded on sink.
func connectSession(t *testing.T, s *Session, fc *fakeClient, sink *ChannelSink) {
	t.Helper()
	if err := s.Connect(sink); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	fc.completeConnect(t, fc.connectCount()-1, nil)
	expectEvent(t, sink, EventConnectSucceeded)
}

// expectEvent waits for the next event on sink and checks its kind.
func expectEvent(t *testing.T, sink *ChannelSink, kind EventKind) Event {
	t.Helper()
	select {
	case ev := <-sink.Events():
		if ev.Kind != kind {
			t.Fatalf("event = %v, want %v", ev.Kind, kind)
		}
		return ev
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for %v", kind)
		return Event{}
	}
}

// expectNoEvent fails if sink receives anything within d.
func expectNoEvent(t *testing.T, sink *ChannelSink, d time.Duration) {
	t.Helper()
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(d):
	}
}

// waitFor polls cond until it holds or the event timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
