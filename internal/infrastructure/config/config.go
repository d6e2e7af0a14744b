package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hubsync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Sync      SyncConfig      `yaml:"sync"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HubConfig contains connection settings for the local device hub.
type HubConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Model identifies the hub model to the local API during the handshake.
	Model string `yaml:"model"`
	// Token is the local API access token printed on the hub.
	Token string `yaml:"token"`
	// ConnectTimeout is the maximum time to wait for a TCP connection (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`
	// RequestTimeout is the default timeout for a single hub request (seconds).
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig contains the coordinator's polling and push-recovery settings.
type SyncConfig struct {
	// PollInterval is the full-refresh cadence (seconds).
	PollInterval int `yaml:"poll_interval"`
	// PollAttempts is the number of enumeration attempts per tick.
	PollAttempts int `yaml:"poll_attempts"`
	// PollRetryDelay is the pause between timed-out attempts (seconds).
	PollRetryDelay int `yaml:"poll_retry_delay"`
	// AttemptTimeout bounds a single enumeration attempt (seconds).
	AttemptTimeout int `yaml:"attempt_timeout"`
	// QueryTimeout bounds a single direct per-device query attempt (seconds).
	QueryTimeout int `yaml:"query_timeout"`
	// CommandTimeout bounds a device-state write (seconds).
	CommandTimeout int `yaml:"command_timeout"`
	// PushRetryCeiling is the number of reconnect cycles the push listener
	// attempts before giving up and deferring to the poll loop.
	PushRetryCeiling int `yaml:"push_retry_ceiling"`
	// PushBackoffBase is the first reconnect delay (seconds); subsequent
	// delays double.
	PushBackoffBase int `yaml:"push_backoff_base"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path    string `yaml:"path"`
	WALMode bool   `yaml:"wal_mode"`
	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the state publisher.
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains InfluxDB connection settings for channel telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HUBSYNC_SECTION_KEY
// For example: HUBSYNC_HUB_HOST, HUBSYNC_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Port:           12348,
			Model:          "OD_WE_OT1",
			ConnectTimeout: 10,
			RequestTimeout: 5,
		},
		Sync: SyncConfig{
			PollInterval:     30,
			PollAttempts:     3,
			PollRetryDelay:   1,
			AttemptTimeout:   5,
			QueryTimeout:     2,
			CommandTimeout:   2,
			PushRetryCeiling: 5,
			PushBackoffBase:  1,
		},
		Database: DatabaseConfig{
			Path:        "./data/hubsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "hubsync",
			BatchSize:     100,
			FlushInterval: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hubsync",
			},
			QoS: 1,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HUBSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("HUBSYNC_HUB_HOST"); v != "" {
		cfg.Hub.Host = v
	}
	if v := os.Getenv("HUBSYNC_HUB_TOKEN"); v != "" {
		cfg.Hub.Token = v
	}

	// Database
	if v := os.Getenv("HUBSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HUBSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HUBSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HUBSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HUBSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("HUBSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Hub.Host == "" {
		errs = append(errs, "hub.host is required")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		errs = append(errs, "hub.port must be between 1 and 65535")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set HUBSYNC_HUB_TOKEN environment variable)")
	}

	if c.Sync.PollInterval < 1 {
		errs = append(errs, "sync.poll_interval must be at least 1 second")
	}
	if c.Sync.PollAttempts < 1 {
		errs = append(errs, "sync.poll_attempts must be at least 1")
	}
	if c.Sync.PushRetryCeiling < 1 {
		errs = append(errs, "sync.push_retry_ceiling must be at least 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the hub connect timeout as a Duration.
func (c *HubConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the hub request timeout as a Duration.
func (c *HubConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetPollInterval returns the poll interval as a Duration.
func (c *SyncConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// GetPollRetryDelay returns the delay between timed-out poll attempts as a Duration.
func (c *SyncConfig) GetPollRetryDelay() time.Duration {
	return time.Duration(c.PollRetryDelay) * time.Second
}

// GetAttemptTimeout returns the per-attempt enumeration timeout as a Duration.
func (c *SyncConfig) GetAttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeout) * time.Second
}

// GetQueryTimeout returns the per-device query timeout as a Duration.
func (c *SyncConfig) GetQueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeout) * time.Second
}

// GetCommandTimeout returns the device command timeout as a Duration.
func (c *SyncConfig) GetCommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// GetPushBackoffBase returns the initial push reconnect delay as a Duration.
func (c *SyncConfig) GetPushBackoffBase() time.Duration {
	return time.Duration(c.PushBackoffBase) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
