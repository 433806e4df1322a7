package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultDisconnectQuiesce is the time paho waits for in-flight work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultStatusTimeout bounds the wait for the offline status publish on Close.
	defaultStatusTimeout = 2 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// statusQoS is the QoS used for status and will messages.
	statusQoS = 1

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options from a session Config.
//
// This configures:
//   - Broker URL and client identification
//   - Authentication credentials (if a username is set)
//   - Clean session, connect timeout and keep-alive
//   - Auto-reconnect (passed through to paho; initial connect is never retried)
//   - TLS for ssl/tls/mqtts/wss addresses
//   - Last Will and Testament (explicit will, or offline status)
//
// Callbacks are attached by the Session.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(cfg.serverAddress)
	opts.SetClientID(cfg.clientID)

	if cfg.username != "" {
		opts.SetUsername(cfg.username)
		opts.SetPassword(cfg.password)
	}

	opts.SetCleanSession(cfg.cleanSession)
	opts.SetConnectTimeout(cfg.ConnectTimeout())
	opts.SetKeepAlive(cfg.KeepAliveInterval())

	opts.SetAutoReconnect(cfg.autoReconnect)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval())
	opts.SetConnectRetry(false)

	if isTLSScheme(cfg.serverAddress) {
		tlsConfig := cfg.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	configureWill(opts, cfg)

	return opts
}

// configureWill sets up Last Will and Testament.
//
// An explicit will wins. Otherwise, when a status topic is configured, the
// broker publishes a retained "offline" status if the session drops without
// a clean disconnect.
func configureWill(opts *pahomqtt.ClientOptions, cfg Config) {
	switch {
	case cfg.will != nil:
		opts.SetWill(cfg.will.Topic, cfg.will.Payload, cfg.will.QoS, cfg.will.Retained)
	case cfg.statusTopic != "":
		opts.SetWill(cfg.statusTopic, buildStatusPayload(cfg.clientID, "offline", "unexpected_disconnect"), statusQoS, true)
	}
}

// statusMessage is the JSON body published on the status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildStatusPayload creates the JSON payload for status messages.
func buildStatusPayload(clientID, status, reason string) string {
	b, err := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		// Only strings are marshalled; this cannot fail.
		return `{"status":"` + status + `"}`
	}
	return string(b)
}
