// mqttsession keeps a long-lived MQTT session open against one broker.
//
// It subscribes the configured topic filters on every successful connect,
// journals every session event to SQLite, and writes per-event telemetry to
// InfluxDB when enabled. When paho's auto-reconnect is off, the daemon
// reconnects itself after the configured delay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/mqttsession/internal/infrastructure/config"
	"github.com/nerrad567/mqttsession/internal/infrastructure/database"
	"github.com/nerrad567/mqttsession/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttsession/internal/infrastructure/logging"
	"github.com/nerrad567/mqttsession/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttsession/internal/journal"
	"github.com/nerrad567/mqttsession/internal/telemetry"
	"github.com/nerrad567/mqttsession/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence with deferred teardown
	log := logging.Default()
	log.Info("starting mqttsession",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "closing log output: %v\n", closeErr)
		}
	}()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	sinks := mqtt.MultiSink{}

	// Event journal (optional)
	var db *database.DB
	if cfg.Journal.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening journal database: %w", err)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("journal database ready", "path", db.Path(), "migrations_applied", applied)

		repo := journal.NewSQLiteRepository(db.DB)
		if summary, sumErr := summariseJournal(ctx, repo); sumErr != nil {
			log.Warn("reading journal failed", "error", sumErr)
		} else if summary.Total > 0 {
			log.Info("journal has previous events",
				"count", summary.Total,
				"last_kind", summary.Last.Kind,
				"last_at", summary.Last.CreatedAt,
			)
		}

		journalSink := journal.NewSink(repo, journal.SinkOptions{
			ClientID:   cfg.MQTT.ClientID,
			Server:     cfg.MQTT.ServerAddress,
			MaxPayload: cfg.Journal.MaxPayload,
			Logger:     log,
		})
		// Registered before the session so it closes after it.
		defer func() {
			_ = journalSink.Close()
			log.Info("journal sink closed", "written", journalSink.Written())
			if dropped := journalSink.Dropped(); dropped > 0 {
				log.Warn("journal dropped events", "count", dropped)
			}
		}()
		sinks = append(sinks, journalSink)
	} else {
		log.Info("journal disabled")
	}

	// Telemetry (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
			stats := influxClient.Stats()
			log.Info("InfluxDB connection closed", "points_queued", stats.Queued, "batches_failed", stats.Failed)
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
			"flush_interval", cfg.GetFlushInterval().String(),
		)
		sinks = append(sinks, telemetry.NewSink(influxClient, cfg.MQTT.ClientID, cfg.MQTT.ServerAddress))
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// MQTT session
	session, err := newSession(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	session.SetLogger(log)
	defer func() {
		log.Info("closing MQTT session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing MQTT session", "error", closeErr)
		}
	}()

	d := newDaemon(session, cfg, log)
	sinks = append(sinks, d)

	if err := d.start(ctx, sinks); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	d.wait()

	// Deferred calls run in reverse order:
	// 1. MQTT session (publishes offline status)
	// 2. InfluxDB (flushes pending points)
	// 3. Journal sink (drains queued entries)
	// 4. Journal database
	log.Info("mqttsession stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MQTTSESSION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MQTTSESSION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// journalSummary describes what a previous run left in the journal.
type journalSummary struct {
	Total int
	Last  journal.Entry
}

// summariseJournal returns the number of journaled events and the most
// recent one.
func summariseJournal(ctx context.Context, repo journal.Repository) (journalSummary, error) {
	result, err := repo.List(ctx, journal.Filter{Limit: 1})
	if err != nil {
		return journalSummary{}, err
	}
	summary := journalSummary{Total: result.Total}
	if len(result.Entries) > 0 {
		summary.Last = result.Entries[0]
	}
	return summary, nil
}

// newSession builds the session Config from the mqtt section and creates
// the Session.
func newSession(ctx context.Context, cfg config.MQTTConfig) (*mqtt.Session, error) {
	builder := mqtt.FromOptions(cfg.Options())
	if cfg.StatusTopic != "" {
		builder.StatusTopic(cfg.StatusTopic)
	}
	if cfg.Will != nil {
		builder.Will(cfg.Will.Topic, cfg.Will.Payload, byte(cfg.Will.QoS), cfg.Will.Retained) //nolint:gosec // validated to 0-2
	}

	sessionCfg, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	return mqtt.New(sessionCfg)
}

// healthCheck verifies the optional infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (may be nil if disabled)
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
