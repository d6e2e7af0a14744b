package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// Connection management constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for a publish to complete.
	defaultPublishTimeout = 5 * time.Second

	// maxReconnectInterval caps paho's internal reconnect backoff.
	maxReconnectInterval = 2 * time.Minute

	// disconnectQuiesce is how long paho waits for in-flight work on disconnect (ms).
	disconnectQuiesce = 250

	// maxQoS is the highest valid MQTT QoS level.
	maxQoS = 2
)

// Client wraps paho.mqtt.golang with hubsync-specific functionality.
//
// It provides connection management with automatic reconnection, a Last
// Will and Testament on the availability topic, and bounded publishes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Connect establishes a connection to the MQTT broker.
//
// The client is configured with auto-reconnect and a retained LWT on the
// availability topic so consumers observe "offline" if hubsync dies.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)

	c := &Client{cfg: cfg}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetConnectTimeout(defaultConnectTimeout).
		SetWill(Topics{}.Availability(), "offline", byte(cfg.QoS), true). //nolint:gosec // QoS validated by config
		SetOnConnectHandler(func(pahomqtt.Client) {
			c.setConnected(true)
			c.logInfo("mqtt connected", "broker", brokerURL)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.setConnected(false)
			c.logWarn("mqtt connection lost", "error", err)
		})

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return c, nil
}

// Publish sends a message to the specified MQTT topic.
//
// Retained messages should be used for state topics so new subscribers
// immediately receive the last known value; events and commands should
// not be retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// IsConnected returns true if the client is connected to the broker.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Close publishes the offline status and disconnects gracefully.
func (c *Client) Close() error {
	// Best-effort offline announcement; the LWT covers unclean exits.
	if c.IsConnected() {
		if err := c.Publish(Topics{}.Availability(), []byte("offline"), byte(c.cfg.QoS), true); err != nil { //nolint:gosec // QoS validated by config
			c.logWarn("failed to publish offline status", "error", err)
		}
	}

	c.client.Disconnect(disconnectQuiesce)
	c.setConnected(false)
	return nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

func (c *Client) logInfo(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}
