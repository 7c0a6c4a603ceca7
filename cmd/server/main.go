// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package main is the entry point for the Pulse server.
//
// Pulse records MuscleMap activity events into a durable DuckDB log,
// tracks time-windowed presence in BadgerDB, and fans events out over two
// WebSocket channels: an anonymized community channel and a role-gated
// monitor channel, both fed through NATS JetStream.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: struct defaults, optional YAML file, PULSE_* env vars (Koanf v2)
//  2. Database: DuckDB event log, exercise catalog, and privacy settings
//  3. Presence: BadgerDB liveness store, with an in-memory fallback
//  4. NATS (optional): embedded JetStream server, stream provisioning, pub/sub
//  5. Fanout: WebSocket hub and the stream-to-hub bridge
//  6. HTTP server: REST API, WebSocket endpoints, Prometheus metrics
//
// All long-running components run under a suture supervision tree with
// separate messaging and API layers, so a crash in one never takes down
// the other.
//
// # Degraded Modes
//
// Pulse prefers degraded operation over refusing to start:
//
//   - NATS unavailable: events are still persisted and tracked; WebSocket
//     clients receive connection snapshots but no live relay.
//   - Badger unavailable: presence falls back to an in-process store;
//     trending counters return empty results.
//   - No JWT secret: the monitor channel rejects every connection; the
//     community channel is unaffected.
//
// # Example Usage
//
// Development, everything in-process:
//
//	export PULSE_SERVER_ENVIRONMENT=development
//	export PULSE_DATABASE_PATH=/tmp/pulse.duckdb
//	export PULSE_PRESENCE_PATH=/tmp/pulse-presence
//	./pulse
//
// Production against an external NATS cluster:
//
//	export PULSE_NATS_EMBEDDED_SERVER=false
//	export PULSE_NATS_URL=nats://nats:4222
//	export PULSE_SECURITY_JWT_SECRET=$(openssl rand -base64 32)
//	./pulse
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/musclemap/pulse/internal/activity"
	"github.com/musclemap/pulse/internal/api"
	"github.com/musclemap/pulse/internal/auth"
	"github.com/musclemap/pulse/internal/config"
	"github.com/musclemap/pulse/internal/database"
	"github.com/musclemap/pulse/internal/fanout"
	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/metrics"
	"github.com/musclemap/pulse/internal/presence"
	"github.com/musclemap/pulse/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Pulse")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	privacySource := database.NewPrivacyStore(db)

	pres := newPresenceStore(cfg, db)
	defer func() {
		if err := pres.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing presence store")
		}
	}()

	nats := initNATS(cfg)
	defer nats.Close()

	// Interface fields stay nil unless the concrete component exists; a
	// typed nil would defeat the emitter's and bridge's nil checks.
	var publisher activity.Publisher
	if nats.publisher != nil {
		publisher = nats.publisher
	}
	var subscriber fanout.TopicSubscriber
	if nats.subscriber != nil {
		subscriber = nats.subscriber
	}

	emitter := activity.NewEmitter(db, pres, publisher, privacySource)
	hub := fanout.NewHub()
	bridge := fanout.NewBridge(subscriber, hub)

	var jwtManager *auth.JWTManager
	if cfg.Security.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(&cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Str("monitor_role", cfg.Security.MonitorRole).Msg("Monitor channel authentication enabled")
	} else {
		logging.Warn().Msg("No JWT secret configured, monitor channel will reject all connections")
	}

	handlers := api.NewHandlers(db, pres, emitter, hub, privacySource, jwtManager, cfg)
	router := api.NewRouter(handlers, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddMessagingService(supervisor.ServiceFunc{Name: "fanout-hub", Run: hub.Run})
	tree.AddMessagingService(supervisor.ServiceFunc{Name: "fanout-bridge", Run: bridge.Run})
	if badgerStore, ok := pres.(*presence.BadgerStore); ok {
		interval := cfg.Presence.CleanupInterval
		tree.AddMessagingService(supervisor.ServiceFunc{
			Name: "presence-cleanup",
			Run: func(ctx context.Context) error {
				badgerStore.RunCleanup(ctx, interval)
				return ctx.Err()
			},
		})
	}

	tree.AddAPIService(supervisor.ServiceFunc{
		Name: "http-server",
		Run: func(ctx context.Context) error {
			return runHTTPServer(ctx, server)
		},
	})
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	logging.Info().Msg("Pulse stopped gracefully")
}

// newPresenceStore opens the BadgerDB presence store, falling back to the
// in-process store when Badger is disabled or fails to open. The fallback
// is observable through the pulse_presence_fallback_active gauge.
func newPresenceStore(cfg *config.Config, db *database.DB) presence.Store {
	if cfg.Presence.InMemory || cfg.Presence.Path == "" {
		logging.Info().Msg("Using in-memory presence store")
		metrics.PresenceFallbackActive.Set(1)
		return presence.NewMemoryStore(cfg.Presence.Window)
	}

	store, err := presence.NewBadgerStore(cfg.Presence.Path, cfg.Presence.Window, cfg.Presence.CounterTTL, db)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.Presence.Path).
			Msg("Badger presence store failed to open, falling back to in-memory store")
		metrics.PresenceFallbackActive.Set(1)
		return presence.NewMemoryStore(cfg.Presence.Window)
	}

	logging.Info().Str("path", cfg.Presence.Path).Msg("Badger presence store opened")
	metrics.PresenceFallbackActive.Set(0)
	return store
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully
// with a 10 second drain window.
func runHTTPServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	return ctx.Err()
}
