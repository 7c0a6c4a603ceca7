// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package activity

import (
	"context"

	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/metrics"
	"github.com/musclemap/pulse/internal/presence"
	"github.com/musclemap/pulse/internal/privacy"
)

// EventStore is the durable append-only log for activity events.
type EventStore interface {
	InsertActivityEvent(ctx context.Context, event *ActivityEvent) error
}

// PresenceWriter receives liveness and trend signals from the emitter.
type PresenceWriter interface {
	UpdatePresence(ctx context.Context, userID string, meta presence.Meta) error
	UpdateNowStats(ctx context.Context, eventType string, payload map[string]any) error
}

// Publisher pushes serialized events onto the live channels.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// EmitOptions carries per-call enrichment and routing flags.
type EmitOptions struct {
	GeoBucket string
	StageID   string
	JourneyID string

	// SkipPersist bypasses the durable log. Heartbeats always set it.
	SkipPersist bool

	// SkipLive bypasses presence tracking and channel publishing.
	SkipLive bool
}

// Emitter is the single entry point for recording user activity. Every
// event flows through Emit, which enriches it, persists it, and routes it
// to presence tracking and the live channels.
//
// Side-effect failures are logged and counted, never raised: the caller's
// primary action must not fail because telemetry failed.
type Emitter struct {
	store      EventStore
	presence   PresenceWriter
	publisher  Publisher
	privacy    privacy.Source
	serializer *Serializer
}

// NewEmitter creates an emitter. publisher may be nil when pub/sub is
// disabled; live fanout then degrades to snapshot-only.
func NewEmitter(store EventStore, pres PresenceWriter, publisher Publisher, source privacy.Source) *Emitter {
	return &Emitter{
		store:      store,
		presence:   pres,
		publisher:  publisher,
		privacy:    source,
		serializer: NewSerializer(),
	}
}

// Emit records one activity event. The returned event is always non-nil
// for a valid type; its Persisted field reports whether the durable write
// succeeded.
func (e *Emitter) Emit(ctx context.Context, userID, eventType string, payload map[string]any, opts EmitOptions) (*ActivityEvent, error) {
	event := NewActivityEvent(userID, eventType)
	if payload != nil {
		event.Payload = payload
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}

	settings, err := e.privacy.Get(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).
			Msg("Privacy lookup failed, using restrictive profile")
		settings = privacy.Restrictive(userID)
	}

	if settings.ShareLocation {
		event.GeoBucket = opts.GeoBucket
	}
	event.VisibilityScope = ScopeFor(eventType, settings)

	if !opts.SkipPersist {
		if err := e.store.InsertActivityEvent(ctx, event); err != nil {
			metrics.PersistFailures.Inc()
			logging.Error().Err(err).
				Str("event_id", event.ID).
				Str("event_type", eventType).
				Msg("Durable event write failed")
		} else {
			event.Persisted = true
		}
	}

	if !opts.SkipLive {
		e.trackPresence(ctx, event, opts)
		e.publish(ctx, event, settings)
	}

	metrics.RecordEmit(eventType, string(event.VisibilityScope))
	return event, nil
}

// EmitHeartbeat refreshes a user's liveness without touching the durable
// log.
func (e *Emitter) EmitHeartbeat(ctx context.Context, userID string, opts EmitOptions) (*ActivityEvent, error) {
	opts.SkipPersist = true
	return e.Emit(ctx, userID, TypeHeartbeat, map[string]any{}, opts)
}

// trackPresence upserts liveness and increments trend counters. The
// location toggle is an audit signal, not activity, so it never refreshes
// presence.
func (e *Emitter) trackPresence(ctx context.Context, event *ActivityEvent, opts EmitOptions) {
	if event.EventType != TypeLocationToggled {
		meta := presence.Meta{
			GeoBucket: event.GeoBucket,
			StageID:   opts.StageID,
			JourneyID: opts.JourneyID,
			Ts:        event.CreatedAt.UnixMilli(),
		}
		if err := e.presence.UpdatePresence(ctx, event.UserID, meta); err != nil {
			metrics.RecordPresenceFailure("update_presence")
			logging.Warn().Err(err).Str("user_id", event.UserID).
				Msg("Presence update failed")
		}
	}

	if err := e.presence.UpdateNowStats(ctx, event.EventType, event.Payload); err != nil {
		metrics.RecordPresenceFailure("update_now_stats")
		logging.Warn().Err(err).Str("event_type", event.EventType).
			Msg("Now-stats update failed")
	}
}

// publish pushes the event to the live channels: the community channel
// receives the anonymized projection only when the scope is public, the
// monitor channel always receives the full event.
func (e *Emitter) publish(ctx context.Context, event *ActivityEvent, settings privacy.Settings) {
	if e.publisher == nil {
		return
	}

	if event.VisibilityScope.Public() {
		pub := Project(event, settings)
		if data, err := e.serializer.MarshalPublic(&pub); err != nil {
			logging.Error().Err(err).Str("event_id", event.ID).
				Msg("Public event serialization failed")
		} else if err := e.publisher.Publish(ctx, TopicCommunity, data); err != nil {
			metrics.RecordPublishFailure("community")
			logging.Warn().Err(err).Str("event_id", event.ID).
				Msg("Community channel publish failed")
		}
	}

	if data, err := e.serializer.Marshal(event); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID).
			Msg("Event serialization failed")
	} else if err := e.publisher.Publish(ctx, TopicMonitor, data); err != nil {
		metrics.RecordPublishFailure("monitor")
		logging.Warn().Err(err).Str("event_id", event.ID).
			Msg("Monitor channel publish failed")
	}
}
