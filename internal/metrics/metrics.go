// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package metrics exposes Prometheus collectors for the activity pipeline:
// emit throughput, side-effect failures, presence store operations, and
// live connection counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts events accepted by the emitter.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_emitted_total",
			Help: "Total activity events emitted, by event type and visibility scope",
		},
		[]string{"event_type", "scope"},
	)

	// PersistFailures counts durable-log writes that were swallowed.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_persist_failures_total",
			Help: "Total durable event-log write failures (logged, not raised)",
		},
	)

	// PublishFailures counts pub/sub publishes that were swallowed.
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_publish_failures_total",
			Help: "Total pub/sub publish failures, by channel",
		},
		[]string{"channel"},
	)

	// PresenceFailures counts presence/counter updates that were swallowed.
	PresenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_presence_failures_total",
			Help: "Total presence store operation failures, by operation",
		},
		[]string{"operation"},
	)

	// PresenceFallbackActive is 1 when the in-memory fallback store is in use.
	PresenceFallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_presence_fallback_active",
			Help: "Whether the in-memory presence fallback is active (1) or the backing store (0)",
		},
	)

	// WSConnections tracks open realtime connections per group.
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_ws_connections",
			Help: "Current open WebSocket connections, by group",
		},
		[]string{"group"},
	)

	// WSMessagesRelayed counts messages relayed from pub/sub to connections.
	WSMessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_ws_messages_relayed_total",
			Help: "Total messages relayed to WebSocket connections, by group",
		},
		[]string{"group"},
	)

	// WSAuthRejections counts monitor-channel connection rejections.
	WSAuthRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_ws_auth_rejections_total",
			Help: "Monitor channel connections rejected at connect time, by reason",
		},
		[]string{"reason"},
	)

	// FeedQueryDuration observes public feed query latency.
	FeedQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_feed_query_duration_seconds",
			Help:    "Duration of public feed page queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordEmit records one emitted event.
func RecordEmit(eventType, scope string) {
	EventsEmitted.WithLabelValues(eventType, scope).Inc()
}

// RecordPublishFailure records a swallowed publish failure.
func RecordPublishFailure(channel string) {
	PublishFailures.WithLabelValues(channel).Inc()
}

// RecordPresenceFailure records a swallowed presence operation failure.
func RecordPresenceFailure(operation string) {
	PresenceFailures.WithLabelValues(operation).Inc()
}
