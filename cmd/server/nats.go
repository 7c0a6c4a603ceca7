// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package main

import (
	"context"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/musclemap/pulse/internal/config"
	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/stream"
)

// natsComponents holds the pub/sub transport pieces. Any field may be nil:
// the pipeline degrades to snapshot-only fanout when the transport is
// unavailable, it never refuses to start.
type natsComponents struct {
	embedded   *stream.EmbeddedServer
	publisher  *stream.Publisher
	subscriber *stream.Subscriber
}

// initNATS wires the live-channel transport: optional embedded server,
// stream provisioning, publisher, and subscriber. Every failure is logged
// and degrades the transport instead of aborting startup.
func initNATS(cfg *config.Config) *natsComponents {
	comps := &natsComponents{}

	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS disabled, live channels degraded to snapshot-only")
		return comps
	}

	pubCfg, subCfg, streamCfg, srvCfg := stream.FromConfig(&cfg.NATS)

	if cfg.NATS.EmbeddedServer {
		es, err := stream.NewEmbeddedServer(&srvCfg)
		if err != nil {
			logging.Error().Err(err).Msg("Embedded NATS server failed to start, live channels degraded")
			return comps
		}
		comps.embedded = es
		pubCfg.URL = es.ClientURL()
		subCfg.URL = es.ClientURL()
		logging.Info().Str("url", es.ClientURL()).Msg("Embedded NATS server started")
	}

	if err := provisionStream(pubCfg.URL, &streamCfg); err != nil {
		logging.Error().Err(err).Msg("Stream provisioning failed, live channels degraded")
		return comps
	}

	pub, err := stream.NewPublisher(pubCfg, nil)
	if err != nil {
		logging.Error().Err(err).Msg("Publisher creation failed, live publish disabled")
	} else {
		comps.publisher = pub
	}

	// The relay needs its own consumer identity per process instance;
	// sharing the durable would split the stream across instances.
	subCfg = subCfg.PerInstance()
	sub, err := stream.NewSubscriber(&subCfg, nil)
	if err != nil {
		logging.Error().Err(err).Msg("Subscriber creation failed, fanout degraded to snapshot-only")
	} else {
		comps.subscriber = sub
	}

	return comps
}

// provisionStream ensures the activity stream exists before publishers and
// subscribers bind to it.
func provisionStream(url string, streamCfg *stream.StreamConfig) error {
	nc, err := natsgo.Connect(url,
		natsgo.Timeout(10*time.Second),
		natsgo.RetryOnFailedConnect(false),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return err
	}

	initializer, err := stream.NewStreamInitializer(js, streamCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := initializer.EnsureStream(ctx); err != nil {
		return err
	}

	logging.Info().Str("stream", streamCfg.Name).Msg("Activity stream provisioned")
	return nil
}

// Close shuts down the transport in dependency order: publisher and
// subscriber first, embedded server last.
func (n *natsComponents) Close() {
	if n.publisher != nil {
		if err := n.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}
	if n.subscriber != nil {
		if err := n.subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing subscriber")
		}
	}
	if n.embedded != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.embedded.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
	}
}
