// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package presence maintains the time-windowed "active now" aggregate:
// per-user liveness with metadata, and minute-bucketed counters for
// trending queries. The primary implementation is BadgerDB-backed; an
// in-process fallback keeps the feature degraded-but-alive when the
// backing store is unavailable.
package presence

import "context"

// Meta is the per-user presence record. Ts is the last-seen time in epoch
// milliseconds; it doubles as the recency score for window queries.
type Meta struct {
	GeoBucket string `json:"geo_bucket,omitempty"`
	StageID   string `json:"stage_id,omitempty"`
	JourneyID string `json:"journey_id,omitempty"`
	Ts        int64  `json:"ts"`
}

// Stats is the aggregate presence surface, computed on demand.
type Stats struct {
	Total       int            `json:"total"`
	ByGeoBucket map[string]int `json:"by_geo_bucket"`
	ByStage     map[string]int `json:"by_stage"`
}

// ExerciseCount is one entry of the trending-exercises result.
type ExerciseCount struct {
	ExerciseID string `json:"exercise_id"`
	Name       string `json:"name"`
	Count      int64  `json:"count"`
}

// NameResolver resolves exercise ids to display names in one batched
// lookup.
type NameResolver interface {
	GetExerciseNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Store tracks user liveness and rolling activity counters. All methods
// are safe for concurrent use across multiple writers.
type Store interface {
	// UpdatePresence upserts a user's liveness record. Idempotent:
	// repeated calls refresh recency, leaving exactly one entry.
	UpdatePresence(ctx context.Context, userID string, meta Meta) error

	// UpdateNowStats increments the current-minute counter for the
	// event's trackable subtype. Event types without a tracked subtype
	// are a no-op.
	UpdateNowStats(ctx context.Context, eventType string, payload map[string]any) error

	// ActiveUserIDs returns users seen within the last windowSeconds.
	ActiveUserIDs(ctx context.Context, windowSeconds int) ([]string, error)

	// MetaBatch fetches presence records for many users at once. Corrupt
	// individual records are skipped, not fatal to the batch.
	MetaBatch(ctx context.Context, userIDs []string) (map[string]Meta, error)

	// ActiveNowStats computes the aggregate presence surface for the
	// window.
	ActiveNowStats(ctx context.Context, windowSeconds int) (Stats, error)

	// TopExercisesNow merges the last N minute buckets and returns up to
	// limit entries sorted descending by count.
	TopExercisesNow(ctx context.Context, minutes, limit int) ([]ExerciseCount, error)

	// CleanupStale removes membership entries older than the window.
	CleanupStale(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// Trackable subtype fields per event type for now-stats counters.
const (
	counterKindExercise = "exercise"
	counterKindStage    = "stage"
)

// counterSubtype extracts the (kind, id) counter key for an event, or
// ok=false when the event type has no tracked subtype.
func counterSubtype(eventType string, payload map[string]any) (kind, id string, ok bool) {
	var field string
	switch eventType {
	case "exercise.selected":
		kind, field = counterKindExercise, "exerciseId"
	case "stage.entered":
		kind, field = counterKindStage, "stageId"
	default:
		return "", "", false
	}
	v, present := payload[field]
	if !present {
		return "", "", false
	}
	s, isString := v.(string)
	if !isString || s == "" {
		return "", "", false
	}
	return kind, s, true
}
