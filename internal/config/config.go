// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package config provides layered configuration for Pulse:
// struct defaults, then an optional YAML file, then PULSE_* environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Pulse server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Presence PresenceConfig `koanf:"presence"`
	NATS     NATSConfig     `koanf:"nats"`
	Security SecurityConfig `koanf:"security"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	Environment     string        `koanf:"environment"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DatabaseConfig holds DuckDB settings for the durable event log.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// PresenceConfig holds settings for the presence store.
type PresenceConfig struct {
	// Path is the BadgerDB directory. Empty path or InMemory=true selects
	// the in-process fallback store.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// Window is the presence liveness window. A user whose last signal is
	// older than the window is no longer "active now".
	Window time.Duration `koanf:"window"`

	// CleanupInterval is how often stale membership entries are range-deleted.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// CounterTTL bounds the lifetime of minute-bucket trend counters.
	CounterTTL time.Duration `koanf:"counter_ttl"`
}

// NATSConfig holds pub/sub transport settings.
type NATSConfig struct {
	Enabled             bool          `koanf:"enabled"`
	URL                 string        `koanf:"url"`
	EmbeddedServer      bool          `koanf:"embedded_server"`
	StoreDir            string        `koanf:"store_dir"`
	MaxMemory           int64         `koanf:"max_memory"`
	MaxStore            int64         `koanf:"max_store"`
	StreamRetentionDays int           `koanf:"stream_retention_days"`
	DurableName         string        `koanf:"durable_name"`
	QueueGroup          string        `koanf:"queue_group"`
	ReconnectWait       time.Duration `koanf:"reconnect_wait"`
	MaxReconnects       int           `koanf:"max_reconnects"`
}

// SecurityConfig holds authentication settings for the monitor channel.
type SecurityConfig struct {
	// JWTSecret signs and verifies monitor-channel tokens. Required when
	// the server is started in production environment.
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	// MonitorRole is the minimum role admitted to the monitor channel.
	MonitorRole string `koanf:"monitor_role"`
}

// APIConfig holds pagination and snapshot sizing.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`

	// SnapshotEvents is how many recent events a new connection receives.
	SnapshotEvents int `koanf:"snapshot_events"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			Timeout:         30 * time.Second,
			Environment:     "development",
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: 1 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/pulse.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Presence: PresenceConfig{
			Path:            "/data/presence",
			InMemory:        false,
			Window:          120 * time.Second,
			CleanupInterval: 1 * time.Minute,
			CounterTTL:      20 * time.Minute,
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 29, // 512MB
			MaxStore:            4 << 30, // 4GB
			StreamRetentionDays: 2,
			DurableName:         "pulse",
			QueueGroup:          "pulse",
			ReconnectWait:       2 * time.Second,
			MaxReconnects:       -1,
		},
		Security: SecurityConfig{
			JWTSecret:      "",
			SessionTimeout: 24 * time.Hour,
			MonitorRole:    "moderator",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			SnapshotEvents:  20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks configuration consistency. Called after loading.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Presence.Window <= 0 {
		return fmt.Errorf("presence.window must be positive, got %s", c.Presence.Window)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size (%d) smaller than api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	if c.Server.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters in production")
	}
	switch c.Security.MonitorRole {
	case "member", "moderator", "admin":
	default:
		return fmt.Errorf("security.monitor_role must be member, moderator, or admin, got %q",
			c.Security.MonitorRole)
	}
	return nil
}
