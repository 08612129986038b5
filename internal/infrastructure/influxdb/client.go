package influxdb

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dhpke/nmos-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the part of the non-blocking write API the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Stats counts points handed to the write API and failed batches.
type Stats struct {
	Connected bool   `json:"connected"`
	Written   uint64 `json:"points_written"`
	Failed    uint64 `json:"write_errors"`
}

// Client writes node telemetry to InfluxDB. Points are batched by the
// library; writers never block and never see errors. Asynchronous failures
// are counted and passed to the SetOnError callback.
//
// Every point carries the tags set with SetTag (node_id once the node is up).
type Client struct {
	client influxdb2.Client
	writer pointWriter

	mu      sync.RWMutex
	open    bool
	tags    map[string]string
	onError func(err error)

	written atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the server and opens a write API on cfg.Org/cfg.Bucket.
// Returns ErrDisabled when influxdb.enabled is false.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if healthy, err := client.Ping(ctx); err != nil || !healthy {
		client.Close()
		if err == nil {
			err = fmt.Errorf("server at %s not ready", cfg.URL)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newWithWriter(api)
	c.client = client
	go c.watchErrors(api.Errors())
	return c, nil
}

// writeOptions maps the config onto the library's batching options.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

// newWithWriter builds an open client around w without a server.
func newWithWriter(w pointWriter) *Client {
	return &Client{writer: w, open: true, tags: map[string]string{}}
}

func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetTag adds a tag written on every subsequent point. An empty value
// removes it.
func (c *Client) SetTag(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		delete(c.tags, key)
		return
	}
	c.tags[key] = value
}

// SetOnError sets the callback for asynchronous write errors.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// write stamps the common tags onto a point and queues it. Points written
// after Close are dropped.
func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	c.mu.RLock()
	if !c.open {
		c.mu.RUnlock()
		return
	}
	all := make(map[string]string, len(c.tags)+len(tags))
	maps.Copy(all, c.tags)
	c.mu.RUnlock()
	maps.Copy(all, tags)

	c.writer.WritePoint(write.NewPoint(measurement, all, fields, ts))
	c.written.Add(1)
}

// Flush forces queued points out.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Stats returns write counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected: c.IsConnected(),
		Written:   c.written.Load(),
		Failed:    c.failed.Load(),
	}
}

// IsConnected reports whether writes are accepted.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb ping: %w", err)
	case !healthy:
		return fmt.Errorf("influxdb ping: server not ready")
	}
	return nil
}

// Close stops accepting points, flushes what is queued and closes the
// connection. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.writer == nil {
		return nil
	}

	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()
	if !wasOpen {
		return nil
	}

	c.writer.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
