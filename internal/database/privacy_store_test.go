// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package database

import (
	"context"
	"testing"

	"github.com/musclemap/pulse/internal/privacy"
)

func TestPrivacyStore_GetMissingUserIsRestrictive(t *testing.T) {
	t.Parallel()

	store := NewPrivacyStore(newTestDB(t))

	settings, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if settings != privacy.Restrictive("nobody") {
		t.Errorf("settings = %+v, want restrictive profile", settings)
	}
}

func TestPrivacyStore_UpsertAndGet(t *testing.T) {
	t.Parallel()

	store := NewPrivacyStore(newTestDB(t))
	ctx := context.Background()

	want := privacy.Settings{
		UserID:             "user-1",
		ShareLocation:      true,
		ShowInFeed:         true,
		ShowWorkoutDetails: true,
		PublicProfile:      true,
		PublicDisplayName:  "IronMike",
	}
	if err := store.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	// Upsert replaces in place.
	want.ShowInFeed = false
	want.PublicDisplayName = ""
	if err := store.Upsert(ctx, want); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}
	got, err = store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ShowInFeed || got.PublicDisplayName != "" {
		t.Errorf("Get() after update = %+v, want updated values", got)
	}
}

func TestPrivacyStore_GetBatch(t *testing.T) {
	t.Parallel()

	store := NewPrivacyStore(newTestDB(t))
	ctx := context.Background()

	for _, s := range []privacy.Settings{
		{UserID: "a", ShowInFeed: true},
		{UserID: "b", PublicProfile: true, PublicDisplayName: "B"},
	} {
		if err := store.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert(%s) error: %v", s.UserID, err)
		}
	}

	out, err := store.GetBatch(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("GetBatch() error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("batch size = %d, want 2; missing users are absent", len(out))
	}
	if !out["a"].ShowInFeed {
		t.Error("settings for a lost ShowInFeed")
	}
	if out["b"].PublicDisplayName != "B" {
		t.Error("settings for b lost display name")
	}

	empty, err := store.GetBatch(ctx, nil)
	if err != nil {
		t.Fatalf("GetBatch(nil) error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty batch = %v, want empty map", empty)
	}
}
