package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/mqttsession/internal/infrastructure/config"
	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// fakeSession records calls made by the daemon.
type fakeSession struct {
	mu         sync.Mutex
	connects   int
	subscribes [][]string
	subQoS     [][]byte
	connectErr error
	connected  chan struct{}

	// ack, when set, is returned by Subscribe instead of an error.
	ack *mqtt.Ack
}

func newFakeSession() *fakeSession {
	return &fakeSession{connected: make(chan struct{}, 8)}
}

func (f *fakeSession) Connect(mqtt.EventSink) error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	f.connected <- struct{}{}
	return f.connectErr
}

func (f *fakeSession) Subscribe(topics []string, qos []byte) (*mqtt.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, topics)
	f.subQoS = append(f.subQoS, qos)
	if f.ack != nil {
		return f.ack, nil
	}
	return nil, mqtt.ErrNotConnected
}

func (f *fakeSession) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func (f *fakeSession) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

var _ sessionControl = (*mqtt.Session)(nil)

func testDaemonConfig(autoReconnect bool) *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			ServerAddress:  "tcp://10.0.2.2:1883",
			ClientID:       "dev1",
			AutoReconnect:  autoReconnect,
			ReconnectDelay: 0,
			Subscriptions: []config.SubscriptionConfig{
				{Topic: "a", QoS: 1},
				{Topic: "sensors/#", QoS: 2},
			},
		},
	}
}

// startDaemon starts d with a context cancelled at test cleanup and
// consumes the initial connect.
func startDaemon(t *testing.T, d *daemon, f *fakeSession) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		d.wait()
	})
	if err := d.start(ctx, d); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	<-f.connected
}

func expectConnect(t *testing.T, f *fakeSession) {
	t.Helper()
	select {
	case <-f.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}
}

func expectNoConnect(t *testing.T, f *fakeSession) {
	t.Helper()
	select {
	case <-f.connected:
		t.Fatal("unexpected reconnect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDaemonSubscribesOnConnect(t *testing.T) {
	f := newFakeSession()
	d := newDaemon(f, testDaemonConfig(false), nopLogger{})

	d.ConnectSucceeded(mqtt.ConnectToken{ServerAddress: "tcp://10.0.2.2:1883"})
	d.ConnectSucceeded(mqtt.ConnectToken{ServerAddress: "tcp://10.0.2.2:1883", Reconnect: true})

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribes) != 2 {
		t.Fatalf("Subscribe called %d times, want 2", len(f.subscribes))
	}
	wantTopics := []string{"a", "sensors/#"}
	wantQoS := []byte{1, 2}
	for i := range wantTopics {
		if f.subscribes[0][i] != wantTopics[i] || f.subQoS[0][i] != wantQoS[i] {
			t.Errorf("subscription %d = %s/%d, want %s/%d",
				i, f.subscribes[0][i], f.subQoS[0][i], wantTopics[i], wantQoS[i])
		}
	}
}

func TestDaemonNoSubscriptions(t *testing.T) {
	f := newFakeSession()
	cfg := testDaemonConfig(false)
	cfg.MQTT.Subscriptions = nil
	d := newDaemon(f, cfg, nopLogger{})

	d.ConnectSucceeded(mqtt.ConnectToken{})

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subscribes) != 0 {
		t.Errorf("Subscribe called %d times, want 0", len(f.subscribes))
	}
}

func TestDaemonReconnect(t *testing.T) {
	tests := []struct {
		name          string
		autoReconnect bool
		event         func(d *daemon)
		wantReconnect bool
	}{
		{
			name:          "connect failed",
			event:         func(d *daemon) { d.ConnectFailed(mqtt.ConnectToken{}, mqtt.ErrConnectionFailed) },
			wantReconnect: true,
		},
		{
			name:          "connect failed with auto-reconnect",
			autoReconnect: true,
			event:         func(d *daemon) { d.ConnectFailed(mqtt.ConnectToken{}, mqtt.ErrConnectionFailed) },
			wantReconnect: true,
		},
		{
			name:          "connection lost",
			event:         func(d *daemon) { d.ConnectionLost(mqtt.ErrConnectionLost) },
			wantReconnect: true,
		},
		{
			name:          "connection lost with auto-reconnect",
			autoReconnect: true,
			event:         func(d *daemon) { d.ConnectionLost(mqtt.ErrConnectionLost) },
			wantReconnect: false,
		},
		{
			name:          "explicit disconnect",
			event:         func(d *daemon) { d.ConnectionLost(mqtt.ErrDisconnectRequested) },
			wantReconnect: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSession()
			d := newDaemon(f, testDaemonConfig(tt.autoReconnect), nopLogger{})
			startDaemon(t, d, f)

			tt.event(d)

			if tt.wantReconnect {
				expectConnect(t, f)
				if got := f.connectCount(); got != 2 {
					t.Errorf("Connect called %d times, want 2", got)
				}
			} else {
				expectNoConnect(t, f)
			}
		})
	}
}

func TestDaemonCoalescesReconnectRequests(t *testing.T) {
	f := newFakeSession()
	d := newDaemon(f, testDaemonConfig(false), nopLogger{})
	d.delay = 100 * time.Millisecond
	startDaemon(t, d, f)

	d.ConnectFailed(mqtt.ConnectToken{}, mqtt.ErrConnectionFailed)
	d.ConnectFailed(mqtt.ConnectToken{}, mqtt.ErrConnectionFailed)
	d.ConnectFailed(mqtt.ConnectToken{}, mqtt.ErrConnectionFailed)

	expectConnect(t, f)
	// One request may have been queued while the first waited out the delay.
	select {
	case <-f.connected:
	case <-time.After(300 * time.Millisecond):
	}
	expectNoConnect(t, f)
	if got := f.connectCount(); got > 3 {
		t.Errorf("Connect called %d times, want at most 3", got)
	}
}

func TestDaemonStopsOnSessionClosed(t *testing.T) {
	f := newFakeSession()
	d := newDaemon(f, testDaemonConfig(false), nopLogger{})
	startDaemon(t, d, f)

	f.mu.Lock()
	f.connectErr = mqtt.ErrSessionClosed
	f.mu.Unlock()

	d.ConnectionLost(mqtt.ErrConnectionLost)
	expectConnect(t, f)

	// The loop has exited; further requests are not acted on.
	d.ConnectionLost(mqtt.ErrConnectionLost)
	expectNoConnect(t, f)
}

func TestDaemonNoWatchersAfterShutdown(t *testing.T) {
	f := newFakeSession()
	// Never completes, so each watcher runs until the daemon context ends.
	f.ack = &mqtt.Ack{}
	d := newDaemon(f, testDaemonConfig(true), nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.start(ctx, d); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	<-f.connected

	d.ConnectSucceeded(mqtt.ConnectToken{})

	// Events keep arriving while the daemon shuts down.
	var events sync.WaitGroup
	for _i := 0; _i < 4; _i++ {
		events.Add(1)
		go func() {
			defer events.Done()
			for _i := 0; _i < 50; _i++ {
				d.ConnectSucceeded(mqtt.ConnectToken{Reconnect: true})
			}
		}()
	}

	cancel()
	waited := make(chan struct{})
	go func() {
		d.wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("wait() did not return after cancel")
	}
	events.Wait()

	if d.track() {
		t.Error("track() = true after wait()")
	}
	if got := f.subscribeCount(); got < 1 {
		t.Errorf("Subscribe called %d times, want at least 1", got)
	}
}
