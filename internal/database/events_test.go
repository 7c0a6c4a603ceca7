// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package database

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/musclemap/pulse/internal/activity"
	"github.com/musclemap/pulse/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory() error: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return db
}

// insertTestEvent writes one event with a deterministic timestamp offset.
func insertTestEvent(t *testing.T, db *DB, scope activity.VisibilityScope, offset time.Duration) *activity.ActivityEvent {
	t.Helper()
	event := &activity.ActivityEvent{
		ID:              uuid.New().String(),
		UserID:          "user-1",
		EventType:       activity.TypeWorkoutCompleted,
		Payload:         map[string]any{"totalTu": float64(100)},
		VisibilityScope: scope,
		CreatedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
	if err := db.InsertActivityEvent(context.Background(), event); err != nil {
		t.Fatalf("InsertActivityEvent() error: %v", err)
	}
	return event
}

func TestInsertActivityEvent_RoundTrip(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	event := &activity.ActivityEvent{
		ID:              uuid.New().String(),
		UserID:          "user-1",
		EventType:       activity.TypeExerciseCompleted,
		Payload:         map[string]any{"exerciseId": "bench", "sets": float64(3)},
		GeoBucket:       "geo:40.7,-74.0",
		VisibilityScope: activity.ScopePublicAnon,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := db.InsertActivityEvent(ctx, event); err != nil {
		t.Fatalf("InsertActivityEvent() error: %v", err)
	}

	events, err := db.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	got := events[0]
	if got.ID != event.ID || got.UserID != event.UserID || got.EventType != event.EventType {
		t.Errorf("event mismatch: got %+v, want %+v", got, event)
	}
	if got.GeoBucket != event.GeoBucket {
		t.Errorf("GeoBucket = %q, want %q", got.GeoBucket, event.GeoBucket)
	}
	if got.Payload["exerciseId"] != "bench" || got.Payload["sets"] != float64(3) {
		t.Errorf("payload = %v, want original fields", got.Payload)
	}
	if !got.Persisted {
		t.Error("scanned event not marked persisted")
	}
}

func TestInsertActivityEvent_DuplicateIDIgnored(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	event := insertTestEvent(t, db, activity.ScopePublicAnon, 0)
	// Redelivery of the same event must not error or duplicate.
	if err := db.InsertActivityEvent(ctx, event); err != nil {
		t.Fatalf("duplicate insert error: %v", err)
	}

	events, err := db.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 after duplicate insert", len(events))
	}
}

func TestGetPublicFeedEvents_ScopeFilter(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	insertTestEvent(t, db, activity.ScopePublicAnon, 0)
	insertTestEvent(t, db, activity.ScopePublicProfile, time.Second)
	insertTestEvent(t, db, activity.ScopeModerator, 2*time.Second)
	insertTestEvent(t, db, activity.ScopeAdmin, 3*time.Second)

	events, _, hasMore, err := db.GetPublicFeedEvents(ctx, 10, nil)
	if err != nil {
		t.Fatalf("GetPublicFeedEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("feed returned %d events, want only the 2 public ones", len(events))
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}
	for _, e := range events {
		if !e.VisibilityScope.Public() {
			t.Errorf("non-public scope %s leaked into the feed", e.VisibilityScope)
		}
	}
}

func TestGetPublicFeedEvents_OrderAndPagination(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	var inserted []*activity.ActivityEvent
	for i := range 5 {
		inserted = append(inserted, insertTestEvent(t, db, activity.ScopePublicAnon,
			time.Duration(i)*time.Second))
	}

	// First page: newest first.
	page1, cursor, hasMore, err := db.GetPublicFeedEvents(ctx, 2, nil)
	if err != nil {
		t.Fatalf("GetPublicFeedEvents() error: %v", err)
	}
	if len(page1) != 2 || !hasMore || cursor == nil {
		t.Fatalf("page1: len=%d hasMore=%v cursor=%v, want 2/true/non-nil", len(page1), hasMore, cursor)
	}
	if page1[0].ID != inserted[4].ID || page1[1].ID != inserted[3].ID {
		t.Errorf("page1 order wrong: got %s,%s", page1[0].ID, page1[1].ID)
	}

	// Second page continues after the cursor with no overlap.
	page2, cursor2, hasMore2, err := db.GetPublicFeedEvents(ctx, 2, cursor)
	if err != nil {
		t.Fatalf("GetPublicFeedEvents(cursor) error: %v", err)
	}
	if len(page2) != 2 || !hasMore2 {
		t.Fatalf("page2: len=%d hasMore=%v, want 2/true", len(page2), hasMore2)
	}
	if page2[0].ID != inserted[2].ID || page2[1].ID != inserted[1].ID {
		t.Errorf("page2 order wrong: got %s,%s", page2[0].ID, page2[1].ID)
	}

	// Final page exhausts the feed.
	page3, _, hasMore3, err := db.GetPublicFeedEvents(ctx, 2, cursor2)
	if err != nil {
		t.Fatalf("GetPublicFeedEvents(cursor2) error: %v", err)
	}
	if len(page3) != 1 || hasMore3 {
		t.Errorf("page3: len=%d hasMore=%v, want 1/false", len(page3), hasMore3)
	}
	if page3[0].ID != inserted[0].ID {
		t.Errorf("page3 returned %s, want oldest event", page3[0].ID)
	}
}

func TestGetPublicFeedEvents_TimestampCollision(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	// Three events at the same instant: the id tiebreaker must keep paging
	// deterministic and overlap-free.
	for range 3 {
		insertTestEvent(t, db, activity.ScopePublicAnon, 0)
	}

	seen := map[string]bool{}
	var cursor *FeedCursor
	for {
		events, next, hasMore, err := db.GetPublicFeedEvents(ctx, 1, cursor)
		if err != nil {
			t.Fatalf("GetPublicFeedEvents() error: %v", err)
		}
		for _, e := range events {
			if seen[e.ID] {
				t.Fatalf("event %s returned twice across pages", e.ID)
			}
			seen[e.ID] = true
		}
		if !hasMore {
			break
		}
		cursor = next
	}
	if len(seen) != 3 {
		t.Errorf("paged through %d events, want 3", len(seen))
	}
}

func TestGetPublicFeedEvents_RejectsMalformedCursorID(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)

	_, _, _, err := db.GetPublicFeedEvents(context.Background(), 10,
		&FeedCursor{CreatedAt: time.Now(), ID: "not-a-uuid; DROP TABLE"})
	if err == nil {
		t.Fatal("expected error for non-UUID cursor id")
	}
}

func TestRecentPublicEvents_ExcludesModeratorScope(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	insertTestEvent(t, db, activity.ScopePublicProfile, 0)
	insertTestEvent(t, db, activity.ScopeModerator, time.Second)

	events, err := db.RecentPublicEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentPublicEvents() error: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 public event", len(events))
	}

	all, err := db.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("RecentEvents = %d, want all 2", len(all))
	}
}

func TestGetExerciseNames(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()

	if err := db.UpsertExercise(ctx, "bench", "Bench Press"); err != nil {
		t.Fatalf("UpsertExercise() error: %v", err)
	}
	if err := db.UpsertExercise(ctx, "squat", "Back Squat"); err != nil {
		t.Fatalf("UpsertExercise() error: %v", err)
	}
	// Upsert overwrites.
	if err := db.UpsertExercise(ctx, "bench", "Barbell Bench Press"); err != nil {
		t.Fatalf("UpsertExercise() error: %v", err)
	}

	names, err := db.GetExerciseNames(ctx, []string{"bench", "squat", "unknown"})
	if err != nil {
		t.Fatalf("GetExerciseNames() error: %v", err)
	}
	if names["bench"] != "Barbell Bench Press" {
		t.Errorf("bench = %q, want upserted name", names["bench"])
	}
	if names["squat"] != "Back Squat" {
		t.Errorf("squat = %q", names["squat"])
	}
	if _, ok := names["unknown"]; ok {
		t.Error("unknown id present in result")
	}

	empty, err := db.GetExerciseNames(ctx, nil)
	if err != nil {
		t.Fatalf("GetExerciseNames(nil) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty lookup returned %v", empty)
	}
}
