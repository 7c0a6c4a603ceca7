// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package activity

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/musclemap/pulse/internal/privacy"
)

// payloadAllowlist maps each event type to the payload fields that survive
// public projection. Types absent from the map project an empty payload.
var payloadAllowlist = map[string][]string{
	TypeSessionStart:         {},
	TypeSessionEnd:           {},
	TypeWorkoutStarted:       {},
	TypeWorkoutCompleted:     {"totalTu", "exerciseCount"},
	TypeExerciseSelected:     {"exerciseId", "exerciseName"},
	TypeExerciseCompleted:    {"exerciseId", "exerciseName", "sets"},
	TypeStageEntered:         {"stageId", "stageName"},
	TypeStageCompleted:       {"stageId", "stageName"},
	TypeLevelUp:              {"level"},
	TypeArchetypeSwitched:    {"archetype"},
	TypeAchievementUnlocked:  {"achievementId", "achievementName"},
	TypeCompetitionJoined:    {"competitionId"},
	TypeCompetitionCompleted: {"competitionId", "rank"},
	TypeLocationToggled:      {},
	TypeHeartbeat:            {},
}

// AnonymousName derives the stable public identifier for a user who has not
// opted into a public profile. One-way: 8 uppercase hex chars of the user
// id's SHA-256. Display only, never an authentication credential.
func AnonymousName(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return fmt.Sprintf("Member #%X", sum[:4])
}

// Project derives the anonymized public view of an event. Pure function:
// the display name comes from the privacy settings, the geo bucket is
// included only when the user shares location, and the payload is rebuilt
// strictly from the event type's allowlist. Fields outside the allowlist
// are dropped silently.
func Project(event *ActivityEvent, settings privacy.Settings) PublicEvent {
	displayName := AnonymousName(event.UserID)
	if settings.PublicProfile && settings.PublicDisplayName != "" {
		displayName = settings.PublicDisplayName
	}

	pub := PublicEvent{
		ID:          event.ID,
		Ts:          event.CreatedAt,
		Type:        event.EventType,
		DisplayName: displayName,
		Payload:     map[string]any{},
	}

	if settings.ShareLocation && event.GeoBucket != "" {
		pub.GeoBucket = event.GeoBucket
	}

	for _, field := range payloadAllowlist[event.EventType] {
		if v, ok := event.Payload[field]; ok {
			pub.Payload[field] = v
		}
	}

	// muscleGroups rides along on workout events when the user opted in,
	// independent of the public-profile flag.
	if settings.ShowWorkoutDetails && strings.HasPrefix(event.EventType, "workout.") {
		if v, ok := event.Payload["muscleGroups"]; ok {
			pub.Payload["muscleGroups"] = v
		}
	}

	return pub
}
