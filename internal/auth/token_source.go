// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package auth

import (
	"net/http"
	"strings"
)

// ResolveToken extracts a bearer token from a connection request.
// Resolution order: "token" query parameter, then the second
// Sec-WebSocket-Protocol value (the first names the protocol), then an
// Authorization: Bearer header. Returns "" when no token is present.
//
// Browser WebSocket clients cannot set arbitrary headers, which is why the
// query parameter and subprotocol paths exist.
func ResolveToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if header := r.Header.Get("Sec-WebSocket-Protocol"); header != "" {
		parts := strings.Split(header, ",")
		if len(parts) >= 2 {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	return ""
}
