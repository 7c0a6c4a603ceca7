// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/musclemap/pulse/internal/activity"
	"github.com/musclemap/pulse/internal/auth"
	"github.com/musclemap/pulse/internal/fanout"
	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/metrics"
	"github.com/musclemap/pulse/internal/presence"
)

// Close codes for monitor-channel rejections, distinct per failure kind.
const (
	closeUnauthenticated  = 4401
	closeInsufficientRole = 4403
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin is enforced by the CORS layer; connection endpoints accept
	// any origin and gate on the token instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Snapshot is the point-in-time state sent to every new connection.
type Snapshot struct {
	Events       any                      `json:"events"`
	Presence     presence.Stats           `json:"presence"`
	TopExercises []presence.ExerciseCount `json:"top_exercises"`
	Timestamp    time.Time                `json:"timestamp"`
}

// CommunityWS handles GET /api/v1/ws/community. Connections are always
// accepted; a token is optional and only enables presence refresh via
// socket heartbeats.
func (h *Handlers) CommunityWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if token := auth.ResolveToken(r); token != "" && h.jwt != nil {
		if claims, err := h.jwt.ValidateToken(token); err == nil {
			userID = claims.UserID
		}
	}

	conn, err := upgrade(w, r)
	if err != nil {
		logging.Error().Err(err).Msg("Community websocket upgrade failed")
		return
	}

	client := fanout.NewClient(h.hub, conn, fanout.GroupCommunity, userID, h.refreshPresence)
	h.hub.Register <- client
	client.Send(fanout.Message{
		Type: fanout.MessageTypeSnapshot,
		Data: h.communitySnapshot(r.Context()),
	})
	client.Start()
}

// MonitorWS handles GET /api/v1/ws/monitor. A valid token with at least
// the configured monitor role is required; rejection happens after the
// upgrade with a distinct close code per failure kind.
func (h *Handlers) MonitorWS(w http.ResponseWriter, r *http.Request) {
	token := auth.ResolveToken(r)

	conn, err := upgrade(w, r)
	if err != nil {
		logging.Error().Err(err).Msg("Monitor websocket upgrade failed")
		return
	}

	if token == "" || h.jwt == nil {
		metrics.WSAuthRejections.WithLabelValues("unauthenticated").Inc()
		closeWithCode(conn, closeUnauthenticated, "authentication required")
		return
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		metrics.WSAuthRejections.WithLabelValues("unauthenticated").Inc()
		closeWithCode(conn, closeUnauthenticated, "invalid token")
		return
	}

	if !auth.RoleAtLeast(claims.Role, h.cfg.Security.MonitorRole) {
		metrics.WSAuthRejections.WithLabelValues("insufficient_role").Inc()
		closeWithCode(conn, closeInsufficientRole, "insufficient role")
		return
	}

	client := fanout.NewClient(h.hub, conn, fanout.GroupMonitor, claims.UserID, h.refreshPresence)
	h.hub.Register <- client
	client.Send(fanout.Message{
		Type: fanout.MessageTypeSnapshot,
		Data: h.monitorSnapshot(r.Context()),
	})
	client.Start()
}

// refreshPresence is the socket-heartbeat callback: an authenticated
// connection's heartbeat frame refreshes liveness like any other
// heartbeat.
func (h *Handlers) refreshPresence(ctx context.Context, userID string) {
	if _, err := h.emitter.EmitHeartbeat(ctx, userID, activity.EmitOptions{}); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).
			Msg("Socket heartbeat refresh failed")
	}
}

// communitySnapshot builds the anonymized snapshot for new community
// connections: recent public events, aggregate presence, and trending
// exercises. Every part is best-effort.
func (h *Handlers) communitySnapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	events, err := h.db.RecentPublicEvents(ctx, h.cfg.API.SnapshotEvents)
	if err != nil {
		logging.Warn().Err(err).Msg("Snapshot event query failed")
	}
	snap.Events = h.projectEvents(ctx, events)

	snap.Presence, snap.TopExercises = h.snapshotAggregates(ctx)
	return snap
}

// monitorSnapshot builds the un-anonymized snapshot for new monitor
// connections.
func (h *Handlers) monitorSnapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	events, err := h.db.RecentEvents(ctx, h.cfg.API.SnapshotEvents)
	if err != nil {
		logging.Warn().Err(err).Msg("Snapshot event query failed")
	}
	if events == nil {
		events = []activity.ActivityEvent{}
	}
	snap.Events = events

	snap.Presence, snap.TopExercises = h.snapshotAggregates(ctx)
	return snap
}

func (h *Handlers) snapshotAggregates(ctx context.Context) (presence.Stats, []presence.ExerciseCount) {
	window := int(h.cfg.Presence.Window.Seconds())
	stats, err := h.presence.ActiveNowStats(ctx, window)
	if err != nil {
		logging.Warn().Err(err).Msg("Snapshot presence query failed")
		stats = presence.Stats{ByGeoBucket: map[string]int{}, ByStage: map[string]int{}}
	}

	top, err := h.presence.TopExercisesNow(ctx, 15, 10)
	if err != nil {
		logging.Warn().Err(err).Msg("Snapshot trending query failed")
	}
	if top == nil {
		top = []presence.ExerciseCount{}
	}

	return stats, top
}

// upgrade completes the WebSocket handshake, echoing the first offered
// subprotocol so browser clients that smuggle a token through the
// subprotocol list still negotiate successfully.
func upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	var responseHeader http.Header
	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		first := strings.TrimSpace(strings.Split(protocols, ",")[0])
		if first != "" {
			responseHeader = http.Header{"Sec-WebSocket-Protocol": []string{first}}
		}
	}
	return upgrader.Upgrade(w, r, responseHeader)
}

// closeWithCode sends a close frame with the given code and closes the
// connection.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.Debug().Err(err).Msg("Failed to write close frame")
	}
	_ = conn.Close()
}
