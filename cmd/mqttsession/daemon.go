package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/mqttsession/internal/infrastructure/config"
	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// subscribeTimeout bounds how long the daemon waits for a SUBACK before
// logging the subscription as unconfirmed.
const subscribeTimeout = 30 * time.Second

// sessionControl is the subset of *mqtt.Session the daemon drives.
type sessionControl interface {
	Connect(sink mqtt.EventSink) error
	Subscribe(topics []string, qos []byte) (*mqtt.Ack, error)
}

// daemon reacts to session events: it subscribes the configured filters on
// every connect and schedules reconnects that paho will not make itself.
// It is the last sink in the fan-out so journal and telemetry see each
// event first.
type daemon struct {
	session sessionControl
	log     mqtt.Logger

	topics        []string
	qos           []byte
	autoReconnect bool
	delay         time.Duration

	// reconnect holds at most one pending reconnect request.
	reconnect chan struct{}

	// mu orders wg.Add in sink callbacks against wait. stopped is set by
	// wait; no watcher starts after it.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup

	// ctx is the daemon lifetime, set by start.
	ctx context.Context //nolint:containedctx // bounds subscription watchers started from sink callbacks
}

func newDaemon(session sessionControl, cfg *config.Config, log mqtt.Logger) *daemon {
	topics, qos := cfg.MQTT.SubscriptionFilters()
	return &daemon{
		session:       session,
		log:           log,
		topics:        topics,
		qos:           qos,
		autoReconnect: cfg.MQTT.AutoReconnect,
		delay:         cfg.GetReconnectDelay(),
		reconnect:     make(chan struct{}, 1),
		ctx:           context.Background(),
	}
}

// start issues the first connect with sink and runs the reconnect loop
// until ctx is done.
func (d *daemon) start(ctx context.Context, sink mqtt.EventSink) error {
	d.ctx = ctx
	if err := d.session.Connect(sink); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.reconnectLoop(ctx, sink)
	return nil
}

// wait blocks until the reconnect loop and any subscription watchers exit.
// Events delivered after wait is called start no new watchers.
func (d *daemon) wait() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
}

// track registers a watcher goroutine unless the daemon is stopping.
func (d *daemon) track() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.ctx.Err() != nil {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *daemon) reconnectLoop(ctx context.Context, sink mqtt.EventSink) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.reconnect:
		}

		d.log.Info("MQTT reconnect scheduled", "delay", d.delay.String())
		timer := time.NewTimer(d.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := d.session.Connect(sink); err != nil {
			d.log.Warn("MQTT reconnect failed", "error", err)
			if errors.Is(err, mqtt.ErrSessionClosed) {
				return
			}
		}
	}
}

func (d *daemon) requestReconnect() {
	select {
	case d.reconnect <- struct{}{}:
	default:
	}
}

// MessageArrived implements mqtt.EventSink.
func (d *daemon) MessageArrived(topic, message string, qos byte) {
	d.log.Debug("message received", "topic", topic, "qos", qos, "bytes", len(message))
}

// ConnectionLost implements mqtt.EventSink.
func (d *daemon) ConnectionLost(cause error) {
	if errors.Is(cause, mqtt.ErrDisconnectRequested) || d.autoReconnect {
		return
	}
	d.requestReconnect()
}

// DeliveryComplete implements mqtt.EventSink.
func (d *daemon) DeliveryComplete(token mqtt.DeliveryToken) {
	d.log.Debug("delivery complete", "topic", token.Topic, "message_id", token.MessageID)
}

// ConnectSucceeded implements mqtt.EventSink.
func (d *daemon) ConnectSucceeded(token mqtt.ConnectToken) {
	if len(d.topics) == 0 {
		return
	}
	// Clean sessions start with no subscriptions, so every connect resubscribes.
	ack, err := d.session.Subscribe(d.topics, d.qos)
	if err != nil {
		d.log.Warn("MQTT subscribe rejected", "topics", d.topics, "error", err)
		return
	}

	if !d.track() {
		return
	}
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, subscribeTimeout)
		defer cancel()

		if err := ack.Wait(ctx); err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.log.Warn("MQTT subscribe failed", "topics", d.topics, "error", err)
			return
		}
		d.log.Info("MQTT subscribed",
			"topics", d.topics,
			"server", token.ServerAddress,
			"reconnect", token.Reconnect,
		)
	}()
}

// ConnectFailed implements mqtt.EventSink. The initial connect is never
// retried by paho, so the daemon always schedules the next attempt.
func (d *daemon) ConnectFailed(_ mqtt.ConnectToken, _ error) {
	d.requestReconnect()
}
