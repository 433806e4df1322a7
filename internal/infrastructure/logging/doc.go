// Package logging provides structured logging for mqttsession.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and the session.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Size-based file rotation via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/mqttsession.log"
//	    max_size: 100    # megabytes
//	    max_backups: 5
//	    max_age: 30      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	session.SetLogger(logger.With("component", "mqtt"))
//
// # Security
//
// Never log broker passwords or InfluxDB tokens. mqtt.Config implements
// slog.LogValuer and omits the password.
package logging
