// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/musclemap/pulse/internal/privacy"
)

// PrivacyStore adapts the privacy_settings table to privacy.Source. The
// table is a read model synced from the account service; users without a
// row resolve to the restrictive profile.
type PrivacyStore struct {
	db *DB
}

// NewPrivacyStore creates the privacy read model over db.
func NewPrivacyStore(db *DB) *PrivacyStore {
	return &PrivacyStore{db: db}
}

// Get implements privacy.Source.
func (p *PrivacyStore) Get(ctx context.Context, userID string) (privacy.Settings, error) {
	ctx, cancel := p.db.ensureContext(ctx)
	defer cancel()

	query := `
	SELECT user_id, share_location, show_in_feed, show_on_map,
		show_workout_details, public_profile, public_display_name
	FROM privacy_settings WHERE user_id = ?`

	s, err := scanSettings(p.db.conn.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return privacy.Restrictive(userID), nil
	}
	if err != nil {
		return privacy.Settings{}, fmt.Errorf("query privacy settings: %w", err)
	}
	return s, nil
}

// GetBatch implements privacy.Source with a single IN query.
func (p *PrivacyStore) GetBatch(ctx context.Context, userIDs []string) (map[string]privacy.Settings, error) {
	if len(userIDs) == 0 {
		return map[string]privacy.Settings{}, nil
	}

	ctx, cancel := p.db.ensureContext(ctx)
	defer cancel()

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
	SELECT user_id, share_location, show_in_feed, show_on_map,
		show_workout_details, public_profile, public_display_name
	FROM privacy_settings WHERE user_id IN (%s)`, placeholders)

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := p.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query privacy settings batch: %w", err)
	}
	defer rows.Close()

	out := make(map[string]privacy.Settings, len(userIDs))
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan privacy settings: %w", err)
		}
		out[s.UserID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate privacy settings: %w", err)
	}

	return out, nil
}

// Upsert writes one user's settings, used by the account-service sync.
func (p *PrivacyStore) Upsert(ctx context.Context, s privacy.Settings) error {
	ctx, cancel := p.db.ensureContext(ctx)
	defer cancel()

	query := `
	INSERT INTO privacy_settings
		(user_id, share_location, show_in_feed, show_on_map,
		 show_workout_details, public_profile, public_display_name)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		share_location = EXCLUDED.share_location,
		show_in_feed = EXCLUDED.show_in_feed,
		show_on_map = EXCLUDED.show_on_map,
		show_workout_details = EXCLUDED.show_workout_details,
		public_profile = EXCLUDED.public_profile,
		public_display_name = EXCLUDED.public_display_name`

	_, err := p.db.conn.ExecContext(ctx, query,
		s.UserID, s.ShareLocation, s.ShowInFeed, s.ShowOnMap,
		s.ShowWorkoutDetails, s.PublicProfile, nullable(s.PublicDisplayName))
	if err != nil {
		return fmt.Errorf("upsert privacy settings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (privacy.Settings, error) {
	var (
		s           privacy.Settings
		displayName *string
	)
	if err := row.Scan(&s.UserID, &s.ShareLocation, &s.ShowInFeed, &s.ShowOnMap,
		&s.ShowWorkoutDetails, &s.PublicProfile, &displayName); err != nil {
		return privacy.Settings{}, err
	}
	if displayName != nil {
		s.PublicDisplayName = *displayName
	}
	return s, nil
}
