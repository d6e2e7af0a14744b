package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const validConfig = `
hub:
  host: 192.168.1.50
  token: abc123
sync:
  poll_interval: 15
database:
  path: /tmp/hubsync-test.db
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Hub.Host != "192.168.1.50" {
		t.Errorf("Hub.Host = %q, want %q", cfg.Hub.Host, "192.168.1.50")
	}
	if cfg.Sync.PollInterval != 15 {
		t.Errorf("Sync.PollInterval = %d, want 15", cfg.Sync.PollInterval)
	}

	// Defaults fill unspecified fields.
	if cfg.Hub.Port != 12348 {
		t.Errorf("Hub.Port default = %d, want 12348", cfg.Hub.Port)
	}
	if cfg.Sync.PollAttempts != 3 {
		t.Errorf("Sync.PollAttempts default = %d, want 3", cfg.Sync.PollAttempts)
	}
	if cfg.Sync.PushRetryCeiling != 5 {
		t.Errorf("Sync.PushRetryCeiling default = %d, want 5", cfg.Sync.PushRetryCeiling)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level default = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() with missing file should return an error")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "hub: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with invalid YAML should return an error")
	}
}

func TestValidateMissingHubHost(t *testing.T) {
	path := writeTempConfig(t, `
hub:
  token: abc123
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() without hub.host should fail validation")
	}
	if !strings.Contains(err.Error(), "hub.host") {
		t.Errorf("error should mention hub.host, got: %v", err)
	}
}

func TestValidateMissingToken(t *testing.T) {
	path := writeTempConfig(t, `
hub:
  host: 192.168.1.50
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() without hub.token should fail validation")
	}
	if !strings.Contains(err.Error(), "hub.token") {
		t.Errorf("error should mention hub.token, got: %v", err)
	}
}

func TestValidateBadQoS(t *testing.T) {
	path := writeTempConfig(t, validConfig+`
mqtt:
  qos: 7
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with mqtt.qos=7 should fail validation")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	t.Setenv("HUBSYNC_HUB_HOST", "10.0.0.9")
	t.Setenv("HUBSYNC_HUB_TOKEN", "env-token")
	t.Setenv("HUBSYNC_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Hub.Host != "10.0.0.9" {
		t.Errorf("Hub.Host = %q, want env override %q", cfg.Hub.Host, "10.0.0.9")
	}
	if cfg.Hub.Token != "env-token" {
		t.Errorf("Hub.Token = %q, want env override", cfg.Hub.Token)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Sync.GetPollInterval().Seconds(); got != 30 {
		t.Errorf("GetPollInterval() = %vs, want 30s", got)
	}
	if got := cfg.Hub.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %vs, want 10s", got)
	}
	if got := cfg.API.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %vs, want 60s", got)
	}
}
