// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package stream provides the NATS JetStream transport for the live
// channels: a resilient publisher, a durable subscriber, stream
// provisioning, and an optional embedded server for single-instance
// deployments.
package stream

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/musclemap/pulse/internal/config"
)

// StreamName is the JetStream stream holding all activity subjects.
const StreamName = "ACTIVITY"

// PublisherConfig holds publisher connection settings.
type PublisherConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	TrackMsgID      bool
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
		TrackMsgID:      true,
	}
}

// SubscriberConfig holds subscriber connection settings.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// StreamName binds the subscriber to a pre-created stream instead of
	// auto-provisioning one per topic.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for the subscriber.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "pulse",
		QueueGroup:       "pulse",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       StreamName,
	}
}

// PerInstance returns a copy with a unique consumer identity. A shared
// durable or queue group load-balances each message to one consumer; the
// fanout relay needs every message on every process instance, so each
// instance gets its own durable and queue group.
func (c SubscriberConfig) PerInstance() SubscriberConfig {
	instanceID := watermill.NewShortUUID()
	c.DurableName = c.DurableName + "-" + instanceID
	c.QueueGroup = c.QueueGroup + "-" + instanceID
	return c
}

// StreamConfig holds JetStream stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns the stream configuration for the activity
// subjects.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            StreamName,
		Subjects:        []string{"activity.>"},
		MaxAge:          2 * 24 * time.Hour,
		MaxBytes:        4 << 30,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// ServerConfig holds embedded NATS server settings.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// FromConfig derives the transport configs from the application config.
func FromConfig(cfg *config.NATSConfig) (PublisherConfig, SubscriberConfig, StreamConfig, ServerConfig) {
	pub := DefaultPublisherConfig(cfg.URL)
	pub.MaxReconnects = cfg.MaxReconnects
	pub.ReconnectWait = cfg.ReconnectWait

	sub := DefaultSubscriberConfig(cfg.URL)
	sub.DurableName = cfg.DurableName
	sub.QueueGroup = cfg.QueueGroup
	sub.MaxReconnects = cfg.MaxReconnects
	sub.ReconnectWait = cfg.ReconnectWait

	str := DefaultStreamConfig()
	if cfg.StreamRetentionDays > 0 {
		str.MaxAge = time.Duration(cfg.StreamRetentionDays) * 24 * time.Hour
	}
	if cfg.MaxStore > 0 {
		str.MaxBytes = cfg.MaxStore
	}

	srv := ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          cfg.StoreDir,
		JetStreamMaxMem:   cfg.MaxMemory,
		JetStreamMaxStore: cfg.MaxStore,
	}

	return pub, sub, str, srv
}
