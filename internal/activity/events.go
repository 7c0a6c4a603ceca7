// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package activity implements the core activity-event pipeline: the durable
// event model, the privacy-driven public projection, and the emitter that
// records, tracks, and fans out every user action.
package activity

import (
	"time"

	"github.com/google/uuid"
)

// VisibilityScope gates which audience tier may see an event. It is
// assigned exactly once, at emission, and never recomputed.
type VisibilityScope string

const (
	// ScopePublicAnon is publicly visible with an anonymized display name.
	ScopePublicAnon VisibilityScope = "public_anon"
	// ScopePublicProfile is publicly visible with the user's chosen name.
	ScopePublicProfile VisibilityScope = "public_profile"
	// ScopeModerator is visible to moderators and above only.
	ScopeModerator VisibilityScope = "moderator"
	// ScopeAdmin is visible to admins only.
	ScopeAdmin VisibilityScope = "admin"
)

// Public reports whether the scope admits the community audience.
func (s VisibilityScope) Public() bool {
	return s == ScopePublicAnon || s == ScopePublicProfile
}

// Event type catalog. The catalog is closed: emitting a type outside it
// is a validation error, not a silent pass-through.
const (
	TypeSessionStart         = "session.start"
	TypeSessionEnd           = "session.end"
	TypeWorkoutStarted       = "workout.started"
	TypeWorkoutCompleted     = "workout.completed"
	TypeExerciseSelected     = "exercise.selected"
	TypeExerciseCompleted    = "exercise.completed"
	TypeStageEntered         = "stage.entered"
	TypeStageCompleted       = "stage.completed"
	TypeLevelUp              = "level.up"
	TypeArchetypeSwitched    = "archetype.switched"
	TypeAchievementUnlocked  = "achievement.unlocked"
	TypeCompetitionJoined    = "competition.joined"
	TypeCompetitionCompleted = "competition.completed"
	TypeLocationToggled      = "privacy.location_toggled"
	TypeHeartbeat            = "heartbeat"
)

// eventTypes is the closed catalog as a set.
var eventTypes = map[string]struct{}{
	TypeSessionStart:         {},
	TypeSessionEnd:           {},
	TypeWorkoutStarted:       {},
	TypeWorkoutCompleted:     {},
	TypeExerciseSelected:     {},
	TypeExerciseCompleted:    {},
	TypeStageEntered:         {},
	TypeStageCompleted:       {},
	TypeLevelUp:              {},
	TypeArchetypeSwitched:    {},
	TypeAchievementUnlocked:  {},
	TypeCompetitionJoined:    {},
	TypeCompetitionCompleted: {},
	TypeLocationToggled:      {},
	TypeHeartbeat:            {},
}

// KnownType reports whether eventType belongs to the closed catalog.
func KnownType(eventType string) bool {
	_, ok := eventTypes[eventType]
	return ok
}

// Pub/sub topics. Community carries anonymized PublicEvent JSON; monitor
// carries full ActivityEvent JSON.
const (
	TopicCommunity = "activity.community"
	TopicMonitor   = "activity.monitor"
)

// ActivityEvent is the durable, append-only record of a user action.
// Rows are never mutated or deleted by the pipeline.
type ActivityEvent struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	EventType       string          `json:"event_type"`
	Payload         map[string]any  `json:"payload"`
	GeoBucket       string          `json:"geo_bucket,omitempty"`
	VisibilityScope VisibilityScope `json:"visibility_scope"`
	CreatedAt       time.Time       `json:"created_at"`

	// Persisted reports whether the durable write succeeded. Heartbeats
	// and events emitted during a store outage are observed-only.
	Persisted bool `json:"persisted"`
}

// PublicEvent is the anonymized projection of an ActivityEvent, safe for
// public display. Derived on demand, never persisted independently.
type PublicEvent struct {
	ID          string         `json:"id"`
	Ts          time.Time      `json:"ts"`
	Type        string         `json:"type"`
	GeoBucket   string         `json:"geo_bucket,omitempty"`
	DisplayName string         `json:"display_name"`
	Payload     map[string]any `json:"payload"`
}

// NewActivityEvent constructs an event with a fresh id and UTC timestamp.
func NewActivityEvent(userID, eventType string) *ActivityEvent {
	return &ActivityEvent{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventType: eventType,
		Payload:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks required fields against the closed catalog.
func (e *ActivityEvent) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Message: "required"}
	}
	if e.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "required"}
	}
	if !KnownType(e.EventType) {
		return &ValidationError{Field: "event_type", Message: "unknown type " + e.EventType}
	}
	return nil
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
