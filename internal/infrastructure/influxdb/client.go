package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqttsession/internal/infrastructure/config"
)

const (
	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// writePrecision matches the journal's timestamp resolution.
	writePrecision = time.Microsecond
)

// Stats counts points handed to the write API and batches it failed to send.
type Stats struct {
	Queued uint64
	Failed uint64
}

// Client writes session telemetry to InfluxDB through the non-blocking
// write API. Points are batched and flushed in the background.
//
// Safe for concurrent use.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI
	org    string
	bucket string

	open    atomic.Bool
	onError atomic.Pointer[func(error)]
	queued  atomic.Uint64
	failed  atomic.Uint64
}

// newOptions maps the influxdb config section onto client options,
// substituting defaults for non-positive batch settings.
func newOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(time.Duration(flush) * time.Second / time.Millisecond)).
		SetPrecision(writePrecision)
}

// Connect pings the server and returns a Client bound to cfg.Org and
// cfg.Bucket.
//
// Returns ErrDisabled when cfg.Enabled is false, and an error wrapping
// ErrConnectionFailed when the ping fails or reports the server unhealthy.
// ctx bounds the ping only; the Client outlives it.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, newOptions(cfg))

	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		influx: influx,
		writer: influx.WriteAPI(cfg.Org, cfg.Bucket),
		org:    cfg.Org,
		bucket: cfg.Bucket,
	}
	c.open.Store(true)

	go c.forwardErrors(c.writer.Errors())

	return c, nil
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := influx.Ping(pingCtx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// forwardErrors counts failed batches and passes them to the SetOnError
// callback until the write API closes the channel.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		if fn := c.onError.Load(); fn != nil {
			(*fn)(fmt.Errorf("%w: %s/%s: %w", ErrWriteFailed, c.org, c.bucket, err))
		}
	}
}

// enqueue hands a point to the write API unless the client is closed.
func (c *Client) enqueue(p *write.Point) {
	if !c.open.Load() {
		return
	}
	c.writer.WritePoint(p)
	c.queued.Add(1)
}

// Close flushes queued points and releases the client. Safe to call more
// than once; later calls do nothing.
func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writer.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server. It returns ErrNotConnected after Close.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.open.Load() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// SetOnError registers a callback for failed batch writes. Errors passed to
// it wrap ErrWriteFailed. A nil callback removes it.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// Flush sends queued points now. No-op after Close.
func (c *Client) Flush() {
	if !c.open.Load() {
		return
	}
	c.writer.Flush()
}

// Stats returns point counters since Connect.
func (c *Client) Stats() Stats {
	return Stats{Queued: c.queued.Load(), Failed: c.failed.Load()}
}
