// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/musclemap/pulse/internal/activity"
)

// FeedCursor marks the position after the last returned feed row.
// Composite (created_at, id) keeps ordering deterministic when timestamps
// collide.
type FeedCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

// InsertActivityEvent appends one event to the durable log. Duplicate ids
// are ignored so redelivered events stay idempotent.
func (db *DB) InsertActivityEvent(ctx context.Context, event *activity.ActivityEvent) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	query := `
	INSERT INTO activity_events
		(id, user_id, event_type, payload, geo_bucket, visibility_scope, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING`

	_, err = db.conn.ExecContext(ctx, query,
		event.ID, event.UserID, event.EventType, string(payload),
		nullable(event.GeoBucket), string(event.VisibilityScope), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// GetPublicFeedEvents returns publicly scoped events ordered newest first,
// starting after the cursor. Returns the events, the cursor for the next
// page, and whether more rows exist.
func (db *DB) GetPublicFeedEvents(ctx context.Context, limit int, cursor *FeedCursor) ([]activity.ActivityEvent, *FeedCursor, bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	// Fetch one extra row to detect whether another page exists.
	fetchLimit := limit + 1

	var query string
	var args []any
	if cursor == nil {
		query = `
		SELECT id, user_id, event_type, payload, geo_bucket, visibility_scope, created_at
		FROM activity_events
		WHERE visibility_scope IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
		args = []any{string(activity.ScopePublicAnon), string(activity.ScopePublicProfile), fetchLimit}
	} else {
		if _, err := uuid.Parse(cursor.ID); err != nil {
			return nil, nil, false, fmt.Errorf("invalid cursor id: %w", err)
		}
		query = `
		SELECT id, user_id, event_type, payload, geo_bucket, visibility_scope, created_at
		FROM activity_events
		WHERE visibility_scope IN (?, ?)
		  AND (created_at, id) < (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
		args = []any{string(activity.ScopePublicAnon), string(activity.ScopePublicProfile),
			cursor.CreatedAt, cursor.ID, fetchLimit}
	}

	events, err := db.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, nil, false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	var next *FeedCursor
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		next = &FeedCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	return events, next, hasMore, nil
}

// RecentPublicEvents returns the newest publicly scoped events for
// connection snapshots.
func (db *DB) RecentPublicEvents(ctx context.Context, limit int) ([]activity.ActivityEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `
	SELECT id, user_id, event_type, payload, geo_bucket, visibility_scope, created_at
	FROM activity_events
	WHERE visibility_scope IN (?, ?)
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

	return db.queryEvents(ctx, query,
		string(activity.ScopePublicAnon), string(activity.ScopePublicProfile), limit)
}

// RecentEvents returns the newest events of any scope, for monitor
// snapshots.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]activity.ActivityEvent, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `
	SELECT id, user_id, event_type, payload, geo_bucket, visibility_scope, created_at
	FROM activity_events
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

	return db.queryEvents(ctx, query, limit)
}

// queryEvents runs an event select and scans the rows.
func (db *DB) queryEvents(ctx context.Context, query string, args ...any) ([]activity.ActivityEvent, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var events []activity.ActivityEvent
	for rows.Next() {
		var (
			e         activity.ActivityEvent
			payload   []byte
			geoBucket *string
			scope     string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &payload,
			&geoBucket, &scope, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		if geoBucket != nil {
			e.GeoBucket = *geoBucket
		}
		e.VisibilityScope = activity.VisibilityScope(scope)
		e.Persisted = true
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity events: %w", err)
	}

	return events, nil
}

// nullable converts empty strings to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
