package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// healthCheckTimeout bounds the initial connectivity probe.
const healthCheckTimeout = 5 * time.Second

// Client wraps the InfluxDB v2 client for writing channel telemetry.
//
// Writes go through the non-blocking write API, which batches points and
// flushes on the configured interval. Write errors are reported through
// the error channel and logged; a broken sink never blocks the sync path.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	logger   Logger
	loggerMu sync.RWMutex

	closeOnce sync.Once
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Connect creates an InfluxDB client and verifies the server is reachable.
//
// Returns ErrDisabled when telemetry is disabled in configuration; callers
// should treat that as "run without the sink" rather than a failure.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5
	}

	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)). //nolint:gosec // guarded above
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("%w: health status %s", ErrConnectionFailed, health.Status)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}

	// Async write errors surface here; drain them so the channel never fills.
	go func() {
		for writeErr := range c.writeAPI.Errors() {
			c.logWarn("influxdb write failed", "error", writeErr)
		}
	}()

	return c, nil
}

// WriteChannelValue records a channel value change as a point in the
// channel_state measurement. The write is buffered and flushed in batches.
func (c *Client) WriteChannelValue(deviceID, deviceType, channel string, value any, ts time.Time) {
	point := influxdb2.NewPoint(
		"channel_state",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
			"channel":     channel,
		},
		map[string]any{"value": fmt.Sprintf("%v", value)},
		ts,
	)

	// Numeric values additionally get a float field so they can be graphed.
	if f, ok := toFloat(value); ok {
		point.AddField("value_num", f)
	}

	c.writeAPI.WritePoint(point)
}

// Flush forces any buffered points to be written immediately.
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// Close flushes buffered points and releases client resources.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeAPI.Flush()
		c.client.Close()
	})
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// toFloat converts the numeric types that appear in channel values.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
