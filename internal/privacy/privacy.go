// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

// Package privacy defines per-user visibility preferences consumed by the
// activity pipeline. The settings are owned by the account service; this
// package only reads them, and every lookup failure degrades to the most
// restrictive profile so a user is never over-exposed by an outage.
package privacy

import "context"

// Settings are a user's visibility preferences.
type Settings struct {
	UserID             string `json:"user_id"`
	ShareLocation      bool   `json:"share_location"`
	ShowInFeed         bool   `json:"show_in_feed"`
	ShowOnMap          bool   `json:"show_on_map"`
	ShowWorkoutDetails bool   `json:"show_workout_details"`
	PublicProfile      bool   `json:"public_profile"`
	PublicDisplayName  string `json:"public_display_name,omitempty"`
}

// Restrictive returns the most restrictive profile for a user: nothing
// shared, nothing shown. Used whenever a settings lookup fails.
func Restrictive(userID string) Settings {
	return Settings{UserID: userID}
}

// Source supplies privacy settings. Implementations must be safe for
// concurrent use.
type Source interface {
	// Get returns the settings for one user.
	Get(ctx context.Context, userID string) (Settings, error)

	// GetBatch returns settings for many users in a single round trip.
	// Users without stored settings are simply absent from the result.
	GetBatch(ctx context.Context, userIDs []string) (map[string]Settings, error)
}

// StaticSource is an in-memory Source keyed by user id. Used in tests and
// as a seed fixture; missing users resolve to the restrictive profile.
type StaticSource map[string]Settings

// Get implements Source.
func (s StaticSource) Get(_ context.Context, userID string) (Settings, error) {
	if settings, ok := s[userID]; ok {
		return settings, nil
	}
	return Restrictive(userID), nil
}

// GetBatch implements Source.
func (s StaticSource) GetBatch(_ context.Context, userIDs []string) (map[string]Settings, error) {
	out := make(map[string]Settings, len(userIDs))
	for _, id := range userIDs {
		if settings, ok := s[id]; ok {
			out[id] = settings
		}
	}
	return out, nil
}
