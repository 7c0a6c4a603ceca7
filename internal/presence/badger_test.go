// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package presence

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/musclemap/pulse/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	os.Exit(m.Run())
}

func newTestBadgerStore(t *testing.T, resolver NameResolver) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir(), 2*time.Minute, 20*time.Minute, resolver)
	if err != nil {
		t.Fatalf("NewBadgerStore() error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return store
}

type staticResolver map[string]string

func (r staticResolver) GetExerciseNames(_ context.Context, ids []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range ids {
		if name, ok := r[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func TestBadgerStore_PresenceRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestBadgerStore(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	meta := Meta{GeoBucket: "geo:a", StageID: "s1", JourneyID: "j1", Ts: now}
	if err := store.UpdatePresence(ctx, "user-1", meta); err != nil {
		t.Fatalf("UpdatePresence() error: %v", err)
	}

	ids, err := store.ActiveUserIDs(ctx, 120)
	if err != nil {
		t.Fatalf("ActiveUserIDs() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "user-1" {
		t.Fatalf("ids = %v, want [user-1]", ids)
	}

	metas, err := store.MetaBatch(ctx, []string{"user-1", "nobody"})
	if err != nil {
		t.Fatalf("MetaBatch() error: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("batch size = %d, want 1; missing users are absent", len(metas))
	}
	if got := metas["user-1"]; got != meta {
		t.Errorf("meta = %+v, want %+v", got, meta)
	}
}

func TestBadgerStore_WindowFiltersByTimestamp(t *testing.T) {
	t.Parallel()

	store := newTestBadgerStore(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	// 130 seconds old: invisible in a 120s window, visible in a 150s window
	// because the record TTL outlives the default window.
	if err := store.UpdatePresence(ctx, "lapsed", Meta{Ts: now - 130_000}); err != nil {
		t.Fatalf("UpdatePresence() error: %v", err)
	}

	ids, err := store.ActiveUserIDs(ctx, 120)
	if err != nil {
		t.Fatalf("ActiveUserIDs() error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("120s window: ids = %v, want empty", ids)
	}

	ids, err = store.ActiveUserIDs(ctx, 150)
	if err != nil {
		t.Fatalf("ActiveUserIDs() error: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("150s window: ids = %v, want the lapsed user", ids)
	}
}

func TestBadgerStore_CleanupStale(t *testing.T) {
	t.Parallel()

	store := newTestBadgerStore(t, nil)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	if err := store.UpdatePresence(ctx, "stale", Meta{Ts: now - 10*60_000}); err != nil {
		t.Fatalf("UpdatePresence() error: %v", err)
	}
	if err := store.UpdatePresence(ctx, "fresh", Meta{Ts: now}); err != nil {
		t.Fatalf("UpdatePresence() error: %v", err)
	}

	if err := store.CleanupStale(ctx); err != nil {
		t.Fatalf("CleanupStale() error: %v", err)
	}

	// The stale record is gone even for the widest query.
	ids, err := store.ActiveUserIDs(ctx, 3600)
	if err != nil {
		t.Fatalf("ActiveUserIDs() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Errorf("ids = %v, want only fresh after cleanup", ids)
	}
}

func TestBadgerStore_TopExercisesNow(t *testing.T) {
	t.Parallel()

	resolver := staticResolver{"bench": "Bench Press", "squat": "Back Squat"}
	store := newTestBadgerStore(t, resolver)
	ctx := context.Background()

	for range 3 {
		if err := store.UpdateNowStats(ctx, "exercise.selected", map[string]any{"exerciseId": "bench"}); err != nil {
			t.Fatalf("UpdateNowStats() error: %v", err)
		}
	}
	if err := store.UpdateNowStats(ctx, "exercise.selected", map[string]any{"exerciseId": "squat"}); err != nil {
		t.Fatalf("UpdateNowStats() error: %v", err)
	}
	// Untracked types never create counters.
	if err := store.UpdateNowStats(ctx, "workout.completed", map[string]any{"exerciseId": "deadlift"}); err != nil {
		t.Fatalf("UpdateNowStats() error: %v", err)
	}

	top, err := store.TopExercisesNow(ctx, 15, 10)
	if err != nil {
		t.Fatalf("TopExercisesNow() error: %v", err)
	}

	if len(top) != 2 {
		t.Fatalf("trending entries = %d, want 2", len(top))
	}
	if top[0].ExerciseID != "bench" || top[0].Count != 3 {
		t.Errorf("top entry = %+v, want bench with count 3", top[0])
	}
	if top[0].Name != "Bench Press" {
		t.Errorf("top entry name = %q, want resolved name", top[0].Name)
	}
	if top[1].ExerciseID != "squat" || top[1].Count != 1 {
		t.Errorf("second entry = %+v, want squat with count 1", top[1])
	}
}

func TestBadgerStore_TopExercisesLimit(t *testing.T) {
	t.Parallel()

	store := newTestBadgerStore(t, nil)
	ctx := context.Background()

	for i := range 5 {
		id := fmt.Sprintf("ex-%d", i)
		if err := store.UpdateNowStats(ctx, "exercise.selected", map[string]any{"exerciseId": id}); err != nil {
			t.Fatalf("UpdateNowStats() error: %v", err)
		}
	}

	top, err := store.TopExercisesNow(ctx, 15, 3)
	if err != nil {
		t.Fatalf("TopExercisesNow() error: %v", err)
	}
	if len(top) != 3 {
		t.Errorf("trending entries = %d, want limit of 3", len(top))
	}
}

func TestBadgerStore_ConcurrentCounterIncrements(t *testing.T) {
	t.Parallel()

	store := newTestBadgerStore(t, nil)
	ctx := context.Background()

	const writers = 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("ex-%d", w)
			for range perWriter {
				if err := store.UpdateNowStats(ctx, "exercise.selected",
					map[string]any{"exerciseId": id}); err != nil {
					t.Errorf("UpdateNowStats() error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	top, err := store.TopExercisesNow(ctx, 2, writers)
	if err != nil {
		t.Fatalf("TopExercisesNow() error: %v", err)
	}
	if len(top) != writers {
		t.Fatalf("trending entries = %d, want %d", len(top), writers)
	}
	for _, entry := range top {
		if entry.Count != perWriter {
			t.Errorf("count for %s = %d, want %d; increments lost", entry.ExerciseID, entry.Count, perWriter)
		}
	}
}
