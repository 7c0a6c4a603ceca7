// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package activity

import "github.com/musclemap/pulse/internal/privacy"

// ScopeFor computes the visibility scope for an event type under the given
// privacy settings. Pure function of its inputs; the rules are ordered and
// the first match wins:
//
//  1. privacy.location_toggled is an admin-only audit signal.
//  2. heartbeat is operational telemetry, moderator-visible at most.
//  3. Users who opted out of the feed never go below moderator.
//  4. Otherwise public, with or without the user's chosen name.
func ScopeFor(eventType string, settings privacy.Settings) VisibilityScope {
	switch {
	case eventType == TypeLocationToggled:
		return ScopeAdmin
	case eventType == TypeHeartbeat:
		return ScopeModerator
	case !settings.ShowInFeed:
		return ScopeModerator
	case settings.PublicProfile:
		return ScopePublicProfile
	default:
		return ScopePublicAnon
	}
}
