package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Configuration defaults.
const (
	// DefaultConnectTimeout is the connect timeout in seconds.
	DefaultConnectTimeout = 10

	// DefaultKeepAliveInterval is the keep-alive interval in seconds.
	DefaultKeepAliveInterval = 20

	// DefaultMaxReconnectInterval caps paho's reconnect backoff, in seconds.
	DefaultMaxReconnectInterval = 60
)

// Option map keys recognised by FromOptions.
const (
	OptionServerAddress     = "serverAddress"
	OptionUserName          = "userName"
	OptionPassWord          = "passWord"
	OptionClientID          = "clientId"
	OptionTimeOutSeconds    = "timeOutSeconds"
	OptionKeepAliveInterval = "keepAliveIntervalSeconds"
	OptionRetainedDefault   = "retainedDefault"
	OptionCleanSession      = "cleanSession"
	OptionAutoReconnect     = "autoReconnect"
)

// supportedSchemes lists the broker URL schemes paho can dial.
var supportedSchemes = map[string]bool{
	"tcp":   true,
	"mqtt":  true,
	"ssl":   true,
	"tls":   true,
	"mqtts": true,
	"ws":    true,
	"wss":   true,
}

// WillMessage is the Last Will and Testament the broker publishes when the
// session drops without a clean disconnect.
type WillMessage struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// Config is the immutable session configuration produced by Builder.Build.
// It is safe to share between goroutines.
type Config struct {
	ctx                  context.Context
	serverAddress        string
	clientID             string
	username             string
	password             string
	connectTimeout       int
	keepAliveInterval    int
	maxReconnectInterval int
	cleanSession         bool
	autoReconnect        bool
	defaultRetained      bool
	will                 *WillMessage
	statusTopic          string
	tlsConfig            *tls.Config
}

// Context returns the execution context the configuration is bound to.
// Cancelling it closes any Session built from this Config.
func (c Config) Context() context.Context { return c.ctx }

// ServerAddress returns the broker URL.
func (c Config) ServerAddress() string { return c.serverAddress }

// ClientID returns the MQTT client identifier.
func (c Config) ClientID() string { return c.clientID }

// Username returns the broker username (empty for anonymous access).
func (c Config) Username() string { return c.username }

// ConnectTimeout returns the connect timeout.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.connectTimeout) * time.Second
}

// KeepAliveInterval returns the keep-alive interval.
func (c Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.keepAliveInterval) * time.Second
}

// MaxReconnectInterval returns the upper bound on paho's reconnect backoff.
func (c Config) MaxReconnectInterval() time.Duration {
	return time.Duration(c.maxReconnectInterval) * time.Second
}

// CleanSession reports whether the broker should discard session state on connect.
func (c Config) CleanSession() bool { return c.cleanSession }

// AutoReconnect reports whether paho reconnects on its own after a connection loss.
func (c Config) AutoReconnect() bool { return c.autoReconnect }

// DefaultRetained returns the retained flag used by Session.PublishDefault.
func (c Config) DefaultRetained() bool { return c.defaultRetained }

// Will returns a copy of the configured will message, or nil.
func (c Config) Will() *WillMessage {
	if c.will == nil {
		return nil
	}
	w := *c.will
	return &w
}

// StatusTopic returns the online/offline status topic (empty when disabled).
func (c Config) StatusTopic() string { return c.statusTopic }

// LogValue implements slog.LogValuer. The password is never included.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("server", c.serverAddress),
		slog.String("client_id", c.clientID),
		slog.String("username", c.username),
		slog.Bool("password_set", c.password != ""),
		slog.Int("connect_timeout_s", c.connectTimeout),
		slog.Int("keep_alive_s", c.keepAliveInterval),
		slog.Bool("clean_session", c.cleanSession),
		slog.Bool("auto_reconnect", c.autoReconnect),
	)
}

// Builder assembles a Config. Setters return the builder so calls can be
// chained; nothing is validated until Build.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	cfg  Config
	errs []string
}

// NewBuilder returns a Builder populated with defaults.
func NewBuilder() *Builder {
	return &Builder{
		cfg: Config{
			connectTimeout:       DefaultConnectTimeout,
			keepAliveInterval:    DefaultKeepAliveInterval,
			maxReconnectInterval: DefaultMaxReconnectInterval,
		},
	}
}

// FromOptions returns a Builder seeded from an option map using the
// Option* keys. Unknown keys and values of the wrong type are reported by Build.
//
// Numeric options accept any Go integer type or a whole float64, so maps
// decoded from YAML or JSON can be passed straight through.
func FromOptions(opts map[string]any) *Builder {
	b := NewBuilder()
	for key, value := range opts {
		switch key {
		case OptionServerAddress:
			b.setString(key, value, b.ServerAddress)
		case OptionUserName:
			b.setString(key, value, b.Username)
		case OptionPassWord:
			b.setString(key, value, b.Password)
		case OptionClientID:
			b.setString(key, value, b.ClientID)
		case OptionTimeOutSeconds:
			b.setInt(key, value, b.ConnectTimeout)
		case OptionKeepAliveInterval:
			b.setInt(key, value, b.KeepAliveInterval)
		case OptionRetainedDefault:
			b.setBool(key, value, b.DefaultRetained)
		case OptionCleanSession:
			b.setBool(key, value, b.CleanSession)
		case OptionAutoReconnect:
			b.setBool(key, value, b.AutoReconnect)
		default:
			b.errs = append(b.errs, fmt.Sprintf("unrecognised option %q", key))
		}
	}
	return b
}

func (b *Builder) setString(key string, value any, set func(string) *Builder) {
	s, ok := value.(string)
	if !ok {
		b.errs = append(b.errs, fmt.Sprintf("option %q must be a string, got %T", key, value))
		return
	}
	set(s)
}

func (b *Builder) setBool(key string, value any, set func(bool) *Builder) {
	v, ok := value.(bool)
	if !ok {
		b.errs = append(b.errs, fmt.Sprintf("option %q must be a bool, got %T", key, value))
		return
	}
	set(v)
}

func (b *Builder) setInt(key string, value any, set func(int) *Builder) {
	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case uint:
		n = int(v) //nolint:gosec // option values are small second counts
	case float64:
		if v != math.Trunc(v) {
			b.errs = append(b.errs, fmt.Sprintf("option %q must be a whole number, got %v", key, v))
			return
		}
		n = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			b.errs = append(b.errs, fmt.Sprintf("option %q must be an integer, got %q", key, v))
			return
		}
		n = parsed
	default:
		b.errs = append(b.errs, fmt.Sprintf("option %q must be an integer, got %T", key, value))
		return
	}
	set(n)
}

// ServerAddress sets the broker URL, e.g. "tcp://10.0.2.2:1883".
func (b *Builder) ServerAddress(addr string) *Builder {
	b.cfg.serverAddress = strings.TrimSpace(addr)
	return b
}

// ClientID sets the client identifier. It must be unique per broker.
func (b *Builder) ClientID(id string) *Builder {
	b.cfg.clientID = id
	return b
}

// Username sets the broker username.
func (b *Builder) Username(username string) *Builder {
	b.cfg.username = username
	return b
}

// Password sets the broker password.
func (b *Builder) Password(password string) *Builder {
	b.cfg.password = password
	return b
}

// ConnectTimeout sets the connect timeout in seconds.
func (b *Builder) ConnectTimeout(seconds int) *Builder {
	b.cfg.connectTimeout = seconds
	return b
}

// KeepAliveInterval sets the keep-alive interval in seconds.
func (b *Builder) KeepAliveInterval(seconds int) *Builder {
	b.cfg.keepAliveInterval = seconds
	return b
}

// MaxReconnectInterval caps paho's reconnect backoff, in seconds.
// Only relevant when AutoReconnect is enabled.
func (b *Builder) MaxReconnectInterval(seconds int) *Builder {
	b.cfg.maxReconnectInterval = seconds
	return b
}

// CleanSession sets the clean session flag.
func (b *Builder) CleanSession(clean bool) *Builder {
	b.cfg.cleanSession = clean
	return b
}

// AutoReconnect lets paho reconnect on its own after a connection loss.
func (b *Builder) AutoReconnect(enabled bool) *Builder {
	b.cfg.autoReconnect = enabled
	return b
}

// DefaultRetained sets the retained flag used by Session.PublishDefault.
func (b *Builder) DefaultRetained(retained bool) *Builder {
	b.cfg.defaultRetained = retained
	return b
}

// Will sets the Last Will and Testament.
func (b *Builder) Will(topic, payload string, qos byte, retained bool) *Builder {
	b.cfg.will = &WillMessage{Topic: topic, Payload: payload, QoS: qos, Retained: retained}
	return b
}

// StatusTopic enables retained online/offline status messages on topic.
// When no explicit will is set, an offline will is registered on the same topic.
func (b *Builder) StatusTopic(topic string) *Builder {
	b.cfg.statusTopic = topic
	return b
}

// TLSConfig sets the TLS configuration for ssl/tls/mqtts/wss addresses.
// The config is cloned so later changes by the caller have no effect.
func (b *Builder) TLSConfig(cfg *tls.Config) *Builder {
	if cfg == nil {
		b.cfg.tlsConfig = nil
		return b
	}
	b.cfg.tlsConfig = cfg.Clone()
	return b
}

// Build validates the accumulated settings and returns an immutable Config
// bound to ctx.
//
// Returns:
//   - Config: Validated configuration
//   - error: ErrInvalidConfig listing every problem found
func (b *Builder) Build(ctx context.Context) (Config, error) {
	errs := append([]string(nil), b.errs...)

	if ctx == nil {
		errs = append(errs, "context is required")
	}

	if b.cfg.serverAddress == "" {
		errs = append(errs, "server address is required")
	} else if err := validateServerAddress(b.cfg.serverAddress); err != nil {
		errs = append(errs, err.Error())
	}

	if b.cfg.clientID == "" {
		errs = append(errs, "client id is required")
	}

	if b.cfg.connectTimeout <= 0 {
		errs = append(errs, "connect timeout must be positive")
	}
	if b.cfg.keepAliveInterval <= 0 {
		errs = append(errs, "keep-alive interval must be positive")
	}
	if b.cfg.maxReconnectInterval <= 0 {
		errs = append(errs, "max reconnect interval must be positive")
	}

	if w := b.cfg.will; w != nil {
		if err := ValidateTopicName(w.Topic); err != nil {
			errs = append(errs, "will topic: "+err.Error())
		}
		if w.QoS > maxQoS {
			errs = append(errs, "will qos must be 0, 1, or 2")
		}
	}

	if b.cfg.statusTopic != "" {
		if err := ValidateTopicName(b.cfg.statusTopic); err != nil {
			errs = append(errs, "status topic: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	cfg := b.cfg
	cfg.ctx = ctx
	if cfg.will != nil {
		w := *cfg.will
		cfg.will = &w
	}
	return cfg, nil
}

// validateServerAddress checks the broker URL has a supported scheme, a host,
// and a numeric port when one is given.
func validateServerAddress(addr string) error {
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("server address %q is not a valid URL", addr)
	}
	if !supportedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("server address %q has unsupported scheme %q", addr, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("server address %q has no host", addr)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("server address %q has invalid port", addr)
		}
	}
	return nil
}

// isTLSScheme reports whether the address dials over TLS.
func isTLSScheme(addr string) bool {
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}
