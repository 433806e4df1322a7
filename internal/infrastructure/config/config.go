package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
)

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "MQTTSESSION_"

// Config is the root configuration structure for the mqttsession daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Journal  JournalConfig  `yaml:"journal"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains the MQTT session settings.
type MQTTConfig struct {
	ServerAddress   string `yaml:"server_address"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	ConnectTimeout  int    `yaml:"connect_timeout"`
	KeepAlive       int    `yaml:"keep_alive"`
	CleanSession    bool   `yaml:"clean_session"`
	AutoReconnect   bool   `yaml:"auto_reconnect"`
	RetainedDefault bool   `yaml:"retained_default"`

	// ReconnectDelay is how long the daemon waits before retrying a failed
	// connect, or reconnecting after a connection loss when AutoReconnect is
	// off (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`

	// StatusTopic receives retained online/offline status messages.
	StatusTopic string `yaml:"status_topic"`

	Will          *MQTTWillConfig      `yaml:"will,omitempty"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// MQTTWillConfig contains the Last Will and Testament.
type MQTTWillConfig struct {
	Topic    string `yaml:"topic"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// SubscriptionConfig is one topic filter the daemon subscribes on connect.
type SubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// JournalConfig contains the SQLite event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// MaxPayload truncates stored message bodies (bytes, 0 = unlimited).
	MaxPayload int `yaml:"max_payload"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
// For example: MQTTSESSION_MQTT_SERVER_ADDRESS, MQTTSESSION_JOURNAL_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			ServerAddress:  "tcp://localhost:1883",
			ClientID:       "mqttsession",
			ConnectTimeout: mqtt.DefaultConnectTimeout,
			KeepAlive:      mqtt.DefaultKeepAliveInterval,
			ReconnectDelay: 5,
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/mqttsession.db",
			WALMode:     true,
			BusyTimeout: 5,
			MaxPayload:  4096,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTSESSION_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_SERVER_ADDRESS"); v != "" {
		cfg.MQTT.ServerAddress = v
	}
	if v := os.Getenv(envPrefix + "MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(envPrefix + "MQTT_AUTO_RECONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sMQTT_AUTO_RECONNECT: %w", envPrefix, err)
		}
		cfg.MQTT.AutoReconnect = b
	}

	// Journal
	if v := os.Getenv(envPrefix + "JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Broker address syntax is checked later by mqtt.Builder.Build; this only
// covers fields the mqtt package does not see.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.ServerAddress == "" {
		errs = append(errs, "mqtt.server_address is required")
	}
	if c.MQTT.ClientID == "" {
		errs = append(errs, "mqtt.client_id is required")
	}
	if c.MQTT.ConnectTimeout <= 0 {
		errs = append(errs, "mqtt.connect_timeout must be positive")
	}
	if c.MQTT.KeepAlive <= 0 {
		errs = append(errs, "mqtt.keep_alive must be positive")
	}
	// The daemon retries every failed connect after this delay.
	if c.MQTT.ReconnectDelay <= 0 {
		errs = append(errs, "mqtt.reconnect_delay must be positive")
	}
	if c.MQTT.StatusTopic != "" {
		if err := mqtt.ValidateTopicName(c.MQTT.StatusTopic); err != nil {
			errs = append(errs, fmt.Sprintf("mqtt.status_topic: %v", err))
		}
	}
	if w := c.MQTT.Will; w != nil {
		if w.Topic == "" {
			errs = append(errs, "mqtt.will.topic is required when will is set")
		} else if err := mqtt.ValidateTopicName(w.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("mqtt.will.topic: %v", err))
		}
		if w.QoS < 0 || w.QoS > 2 {
			errs = append(errs, "mqtt.will.qos must be 0, 1, or 2")
		}
	}
	seen := make(map[string]bool, len(c.MQTT.Subscriptions))
	for i, sub := range c.MQTT.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic is required", i))
		} else if seen[sub.Topic] {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic %q is duplicated", i, sub.Topic))
		} else if err := mqtt.ValidateTopicFilter(sub.Topic); err != nil {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic: %v", i, err))
		}
		seen[sub.Topic] = true
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}
	if c.Journal.MaxPayload < 0 {
		errs = append(errs, "journal.max_payload must not be negative")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Logging validation
	switch c.Logging.Output {
	case "stdout", "stderr", "":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout, stderr, or file", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Options returns the session option map understood by mqtt.FromOptions.
func (m MQTTConfig) Options() map[string]any {
	opts := map[string]any{
		mqtt.OptionServerAddress:     m.ServerAddress,
		mqtt.OptionClientID:          m.ClientID,
		mqtt.OptionTimeOutSeconds:    m.ConnectTimeout,
		mqtt.OptionKeepAliveInterval: m.KeepAlive,
		mqtt.OptionRetainedDefault:   m.RetainedDefault,
		mqtt.OptionCleanSession:      m.CleanSession,
		mqtt.OptionAutoReconnect:     m.AutoReconnect,
	}
	if m.Username != "" {
		opts[mqtt.OptionUserName] = m.Username
		opts[mqtt.OptionPassWord] = m.Password
	}
	return opts
}

// SubscriptionFilters returns the configured filters and QoS levels as the
// parallel slices taken by mqtt.Session.Subscribe.
func (m MQTTConfig) SubscriptionFilters() ([]string, []byte) {
	topics := make([]string, 0, len(m.Subscriptions))
	qos := make([]byte, 0, len(m.Subscriptions))
	for _, sub := range m.Subscriptions {
		topics = append(topics, sub.Topic)
		qos = append(qos, byte(sub.QoS)) //nolint:gosec // validated to 0-2
	}
	return topics, qos
}

// GetReconnectDelay returns the daemon reconnect delay as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.ReconnectDelay) * time.Second
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
