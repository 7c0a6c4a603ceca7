// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used when the backing store is
// unavailable. Every write eagerly prunes lapsed entries, so the map never
// outgrows the active population. Minute-bucket counters have no fallback;
// trending queries return empty results in this mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Meta
	window  time.Duration
}

// NewMemoryStore creates the fallback store.
func NewMemoryStore(window time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Meta),
		window:  window,
	}
}

// UpdatePresence implements Store.
func (s *MemoryStore) UpdatePresence(_ context.Context, userID string, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[userID] = meta
	s.pruneLocked()
	return nil
}

// UpdateNowStats implements Store. No-op: there is no in-process
// substitute for the shared minute-bucket counters.
func (s *MemoryStore) UpdateNowStats(_ context.Context, _ string, _ map[string]any) error {
	return nil
}

// ActiveUserIDs implements Store.
func (s *MemoryStore) ActiveUserIDs(_ context.Context, windowSeconds int) ([]string, error) {
	cutoff := time.Now().UnixMilli() - int64(windowSeconds)*1000

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for userID, meta := range s.entries {
		if meta.Ts >= cutoff {
			ids = append(ids, userID)
		}
	}
	return ids, nil
}

// MetaBatch implements Store.
func (s *MemoryStore) MetaBatch(_ context.Context, userIDs []string) (map[string]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Meta, len(userIDs))
	for _, userID := range userIDs {
		if meta, ok := s.entries[userID]; ok {
			out[userID] = meta
		}
	}
	return out, nil
}

// ActiveNowStats implements Store.
func (s *MemoryStore) ActiveNowStats(ctx context.Context, windowSeconds int) (Stats, error) {
	ids, err := s.ActiveUserIDs(ctx, windowSeconds)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:       len(ids),
		ByGeoBucket: map[string]int{},
		ByStage:     map[string]int{},
	}

	metas, _ := s.MetaBatch(ctx, ids)
	for _, meta := range metas {
		if meta.GeoBucket != "" {
			stats.ByGeoBucket[meta.GeoBucket]++
		}
		if meta.StageID != "" {
			stats.ByStage[meta.StageID]++
		}
	}
	return stats, nil
}

// TopExercisesNow implements Store. Always empty in fallback mode.
func (s *MemoryStore) TopExercisesNow(_ context.Context, _, _ int) ([]ExerciseCount, error) {
	return nil, nil
}

// CleanupStale implements Store.
func (s *MemoryStore) CleanupStale(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// pruneLocked drops entries older than the window. Caller holds the write
// lock.
func (s *MemoryStore) pruneLocked() {
	cutoff := time.Now().UnixMilli() - s.window.Milliseconds()
	for userID, meta := range s.entries {
		if meta.Ts < cutoff {
			delete(s.entries, userID)
		}
	}
}
