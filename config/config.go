// Package config holds the configuration surface for the server facade
// and its components.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the full set of server and protocol options.
type Config struct {
	Host string
	Port int
	Path string // WebSocket upgrade path, e.g. "/ws"

	CurrentVersion    string
	SupportedVersions []string
	MinimumVersion    string // empty = no floor

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SessionSuspendTimeout  time.Duration
	SessionCleanupInterval time.Duration

	RequireAuth bool
	AuthTimeout time.Duration

	MaxMessageSize int64

	EnableCompression bool
	CORSHeaders       map[string]string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:                   "0.0.0.0",
		Port:                   8080,
		Path:                   "/ws",
		CurrentVersion:         "1.0",
		SupportedVersions:      []string{"1.0"},
		HeartbeatInterval:      30 * time.Second,
		HeartbeatTimeout:       10 * time.Second,
		SessionSuspendTimeout:  2 * time.Minute,
		SessionCleanupInterval: 30 * time.Second,
		RequireAuth:            false,
		AuthTimeout:            5 * time.Second,
		MaxMessageSize:         1 << 20, // 1 MiB
		EnableCompression:      false,
		CORSHeaders:            map[string]string{},
	}
}

// FromEnv overlays environment variables onto Default(), leaving a
// field unchanged when its variable is unset or unparsable.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("WSRELAY_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("WSRELAY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("WSRELAY_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("WSRELAY_REQUIRE_AUTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireAuth = b
		}
	}
	if v := os.Getenv("WSRELAY_HEARTBEAT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("WSRELAY_HEARTBEAT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.HeartbeatTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("WSRELAY_SUSPEND_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.SessionSuspendTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	return cfg
}
