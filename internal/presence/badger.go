// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package presence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/musclemap/pulse/internal/logging"
)

const (
	presencePrefix = "presence:"
	counterPrefix  = "nowstats:"

	// incrementRetries bounds optimistic-txn retries on counter conflicts.
	incrementRetries = 5

	gcInterval = 10 * time.Minute
)

// BadgerStore is the BadgerDB-backed presence store. Membership records
// carry their own TTL; window queries filter by the embedded timestamp, so
// the TTL only bounds disk growth, never visibility.
type BadgerStore struct {
	db         *badger.DB
	window     time.Duration
	counterTTL time.Duration
	resolver   NameResolver
	stopGC     chan struct{}
}

// NewBadgerStore opens (or creates) the presence database at path.
// resolver may be nil; trending results then carry ids without names.
func NewBadgerStore(path string, window, counterTTL time.Duration, resolver NameResolver) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open presence store: %w", err)
	}

	s := &BadgerStore{
		db:         db,
		window:     window,
		counterTTL: counterTTL,
		resolver:   resolver,
		stopGC:     make(chan struct{}),
	}
	go s.gcLoop()

	return s, nil
}

func presenceKey(userID string) []byte {
	return []byte(presencePrefix + userID)
}

// counterKey orders counters by minute bucket first so one prefix scan
// covers a whole minute.
func counterKey(kind string, bucket int64, id string) []byte {
	return fmt.Appendf(nil, "%s%s:%d:%s", counterPrefix, kind, bucket, id)
}

func counterBucketPrefix(kind string, bucket int64) []byte {
	return fmt.Appendf(nil, "%s%s:%d:", counterPrefix, kind, bucket)
}

// UpdatePresence implements Store. The record TTL is a multiple of the
// window so queries with a wider window than the default still see
// recently lapsed users; visibility is always decided by the timestamp.
func (s *BadgerStore) UpdatePresence(_ context.Context, userID string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal presence meta: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(presenceKey(userID), data).WithTTL(4 * s.window)
		return txn.SetEntry(entry)
	})
}

// UpdateNowStats implements Store. Counter writes are read-modify-write
// inside one serializable transaction, retried on conflict.
func (s *BadgerStore) UpdateNowStats(_ context.Context, eventType string, payload map[string]any) error {
	kind, id, ok := counterSubtype(eventType, payload)
	if !ok {
		return nil
	}

	key := counterKey(kind, time.Now().Unix()/60, id)
	var err error
	for range incrementRetries {
		err = s.db.Update(func(txn *badger.Txn) error {
			var count uint64
			item, getErr := txn.Get(key)
			switch {
			case getErr == nil:
				if valErr := item.Value(func(val []byte) error {
					if len(val) == 8 {
						count = binary.BigEndian.Uint64(val)
					}
					return nil
				}); valErr != nil {
					return valErr
				}
			case errors.Is(getErr, badger.ErrKeyNotFound):
			default:
				return getErr
			}

			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, count+1)
			return txn.SetEntry(badger.NewEntry(key, buf).WithTTL(s.counterTTL))
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// ActiveUserIDs implements Store. A user is active while their last-seen
// timestamp is at or after now-window; exactly at the boundary counts.
func (s *BadgerStore) ActiveUserIDs(_ context.Context, windowSeconds int) ([]string, error) {
	cutoff := time.Now().UnixMilli() - int64(windowSeconds)*1000
	var ids []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(presencePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			userID := string(item.Key()[len(presencePrefix):])
			if err := item.Value(func(val []byte) error {
				var meta Meta
				if err := json.Unmarshal(val, &meta); err != nil {
					logging.Warn().Str("user_id", userID).
						Msg("Skipping corrupt presence record")
					return nil
				}
				if meta.Ts >= cutoff {
					ids = append(ids, userID)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}

	return ids, nil
}

// MetaBatch implements Store. One transaction covers the whole batch;
// missing or corrupt records are skipped.
func (s *BadgerStore) MetaBatch(_ context.Context, userIDs []string) (map[string]Meta, error) {
	out := make(map[string]Meta, len(userIDs))

	err := s.db.View(func(txn *badger.Txn) error {
		for _, userID := range userIDs {
			item, err := txn.Get(presenceKey(userID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				var meta Meta
				if err := json.Unmarshal(val, &meta); err != nil {
					logging.Warn().Str("user_id", userID).
						Msg("Skipping corrupt presence record")
					return nil
				}
				out[userID] = meta
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch presence fetch: %w", err)
	}

	return out, nil
}

// ActiveNowStats implements Store.
func (s *BadgerStore) ActiveNowStats(ctx context.Context, windowSeconds int) (Stats, error) {
	ids, err := s.ActiveUserIDs(ctx, windowSeconds)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:       len(ids),
		ByGeoBucket: map[string]int{},
		ByStage:     map[string]int{},
	}

	metas, err := s.MetaBatch(ctx, ids)
	if err != nil {
		return stats, err
	}
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

// TopExercisesNow implements Store.
func (s *BadgerStore) TopExercisesNow(ctx context.Context, minutes, limit int) ([]ExerciseCount, error) {
	if minutes <= 0 || limit <= 0 {
		return nil, nil
	}

	totals := map[string]int64{}
	currentBucket := time.Now().Unix() / 60

	err := s.db.View(func(txn *badger.Txn) error {
		for i := range int64(minutes) {
			prefix := counterBucketPrefix(counterKindExercise, currentBucket-i)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				exerciseID := string(item.Key()[len(prefix):])
				if err := item.Value(func(val []byte) error {
					if len(val) == 8 {
						totals[exerciseID] += int64(binary.BigEndian.Uint64(val))
					}
					return nil
				}); err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan exercise counters: %w", err)
	}

	entries := make([]ExerciseCount, 0, len(totals))
	for id, count := range totals {
		entries = append(entries, ExerciseCount{ExerciseID: id, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	if s.resolver != nil && len(entries) > 0 {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ExerciseID
		}
		names, err := s.resolver.GetExerciseNames(ctx, ids)
		if err != nil {
			logging.Warn().Err(err).Msg("Exercise name resolution failed")
		} else {
			for i := range entries {
				entries[i].Name = names[entries[i].ExerciseID]
			}
		}
	}

	return entries, nil
}

// CleanupStale implements Store. Deletes membership records whose last-seen
// timestamp has fallen out of the window. Collects keys under a read
// iterator first, then deletes, so concurrent writers are never blocked.
func (s *BadgerStore) CleanupStale(_ context.Context) error {
	cutoff := time.Now().UnixMilli() - s.window.Milliseconds()
	var stale [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(presencePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				var meta Meta
				if err := json.Unmarshal(val, &meta); err != nil || meta.Ts < cutoff {
					stale = append(stale, key)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan stale presence: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete stale presence: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush stale deletes: %w", err)
	}

	logging.Debug().Int("removed", len(stale)).Msg("Stale presence cleanup complete")
	return nil
}

// RunCleanup runs CleanupStale on the interval until ctx is cancelled.
func (s *BadgerStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupStale(ctx); err != nil {
				logging.Warn().Err(err).Msg("Presence cleanup failed")
			}
		}
	}
}

// gcLoop reclaims value-log space in the background.
func (s *BadgerStore) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
		}
	}
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}
