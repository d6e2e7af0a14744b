// Package config loads and validates hubsync configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// HUBSYNC_* environment variable overrides. Secrets (hub token, MQTT
// credentials, InfluxDB token) should be supplied via the environment
// rather than committed to the config file.
package config
