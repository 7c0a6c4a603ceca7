// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/musclemap/pulse/internal/activity"
	"github.com/musclemap/pulse/internal/auth"
	"github.com/musclemap/pulse/internal/config"
	"github.com/musclemap/pulse/internal/database"
	"github.com/musclemap/pulse/internal/fanout"
	"github.com/musclemap/pulse/internal/logging"
	"github.com/musclemap/pulse/internal/metrics"
	"github.com/musclemap/pulse/internal/presence"
	"github.com/musclemap/pulse/internal/privacy"
)

// Handlers carries the pipeline dependencies for all HTTP endpoints.
type Handlers struct {
	db       *database.DB
	presence presence.Store
	emitter  *activity.Emitter
	hub      *fanout.Hub
	privacy  privacy.Source
	jwt      *auth.JWTManager
	cfg      *config.Config
}

// NewHandlers creates the handler set. jwt may be nil; the monitor channel
// then rejects every connection as unauthenticated.
func NewHandlers(db *database.DB, pres presence.Store, emitter *activity.Emitter,
	hub *fanout.Hub, source privacy.Source, jwt *auth.JWTManager, cfg *config.Config) *Handlers {
	return &Handlers{
		db:       db,
		presence: pres,
		emitter:  emitter,
		hub:      hub,
		privacy:  source,
		jwt:      jwt,
		cfg:      cfg,
	}
}

// EmitEvent handles POST /api/v1/events. The event is recorded, tracked,
// and fanned out; side-effect failures never fail the request.
func (h *Handlers) EmitEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req EmitRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError("invalid emit request", err.Error())
		return
	}

	event, err := h.emitter.Emit(r.Context(), req.UserID, req.EventType, req.Payload, activity.EmitOptions{
		GeoBucket: req.GeoBucket,
		StageID:   req.StageID,
		JourneyID: req.JourneyID,
	})
	if err != nil {
		rw.ValidationError("invalid event", err.Error())
		return
	}

	rw.Created(event)
}

// Heartbeat handles POST /api/v1/heartbeat. Refreshes liveness only;
// nothing is written to the durable log.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req HeartbeatRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError("invalid heartbeat request", err.Error())
		return
	}

	event, err := h.emitter.EmitHeartbeat(r.Context(), req.UserID, activity.EmitOptions{
		GeoBucket: req.GeoBucket,
		StageID:   req.StageID,
		JourneyID: req.JourneyID,
	})
	if err != nil {
		rw.ValidationError("invalid heartbeat", err.Error())
		return
	}

	rw.Success(event)
}

// Feed handles GET /api/v1/feed: the cursor-paginated public event feed,
// newest first. Events are projected through each user's privacy settings
// at read time, so a later settings change affects how old events display.
func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	timer := time.Now()

	limit := h.parseLimit(r.URL.Query().Get("limit"))
	cursor, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	events, nextCursor, hasMore, err := h.db.GetPublicFeedEvents(r.Context(), limit, cursor)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	publicEvents := h.projectEvents(r.Context(), events)
	metrics.FeedQueryDuration.Observe(time.Since(timer).Seconds())

	rw.SuccessWithPagination(publicEvents, &PaginationMeta{
		Count:      len(publicEvents),
		Limit:      limit,
		HasMore:    hasMore,
		NextCursor: encodeCursor(nextCursor),
	})
}

// PresenceNow handles GET /api/v1/presence/now: the aggregate presence
// surface. Best-effort; a degraded presence store yields zeros, not an
// error.
func (h *Handlers) PresenceNow(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	window := h.parseWindow(r.URL.Query().Get("window"))
	stats, err := h.presence.ActiveNowStats(r.Context(), window)
	if err != nil {
		logging.Warn().Err(err).Msg("Presence stats query failed, returning empty aggregate")
		stats = presence.Stats{ByGeoBucket: map[string]int{}, ByStage: map[string]int{}}
	}

	rw.Success(stats)
}

// TopExercises handles GET /api/v1/presence/top-exercises: trending
// exercises over the last N minutes.
func (h *Handlers) TopExercises(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	minutes := parsePositiveInt(r.URL.Query().Get("minutes"), 15, 120)
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 10, 50)

	entries, err := h.presence.TopExercisesNow(r.Context(), minutes, limit)
	if err != nil {
		logging.Warn().Err(err).Msg("Trending query failed, returning empty result")
		entries = nil
	}
	if entries == nil {
		entries = []presence.ExerciseCount{}
	}

	rw.Success(entries)
}

// RealtimeStats handles GET /api/v1/realtime/stats: current connection
// counts per group.
func (h *Handlers) RealtimeStats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.hub.Stats())
}

// Health handles GET /api/v1/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.db.Ping(r.Context()); err != nil {
		rw.ServiceUnavailable("database unreachable")
		return
	}

	rw.Success(map[string]any{
		"status":      "ok",
		"connections": h.hub.Stats(),
	})
}

// projectEvents anonymizes raw events with one batched privacy lookup.
// A failed lookup degrades every affected user to the restrictive profile
// rather than failing the read.
func (h *Handlers) projectEvents(ctx context.Context, events []activity.ActivityEvent) []activity.PublicEvent {
	userIDs := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for i := range events {
		if _, ok := seen[events[i].UserID]; !ok {
			seen[events[i].UserID] = struct{}{}
			userIDs = append(userIDs, events[i].UserID)
		}
	}

	settings, err := h.privacy.GetBatch(ctx, userIDs)
	if err != nil {
		logging.Warn().Err(err).Msg("Privacy batch lookup failed, projecting restrictively")
		settings = map[string]privacy.Settings{}
	}

	out := make([]activity.PublicEvent, 0, len(events))
	for i := range events {
		s, ok := settings[events[i].UserID]
		if !ok {
			s = privacy.Restrictive(events[i].UserID)
		}
		out = append(out, activity.Project(&events[i], s))
	}
	return out
}

// parseLimit clamps the page size to the configured bounds.
func (h *Handlers) parseLimit(raw string) int {
	limit := h.cfg.API.DefaultPageSize
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > h.cfg.API.MaxPageSize {
		limit = h.cfg.API.MaxPageSize
	}
	return limit
}

// parseWindow returns the presence window in seconds, defaulting to the
// configured window and capped at one hour.
func (h *Handlers) parseWindow(raw string) int {
	window := int(h.cfg.Presence.Window.Seconds())
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			window = v
		}
	}
	if window > 3600 {
		window = 3600
	}
	return window
}

func parsePositiveInt(raw string, fallback, maximum int) int {
	v := fallback
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			v = parsed
		}
	}
	if v > maximum {
		v = maximum
	}
	return v
}
