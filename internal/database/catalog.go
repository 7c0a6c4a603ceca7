// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package database

import (
	"context"
	"fmt"
	"strings"
)

// GetExerciseNames resolves exercise ids to display names in one query.
// Unknown ids are absent from the result.
func (db *DB) GetExerciseNames(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("SELECT id, name FROM exercises WHERE id IN (%s)", placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query exercise names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan exercise name: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exercise names: %w", err)
	}

	return names, nil
}

// UpsertExercise inserts or updates one catalog entry.
func (db *DB) UpsertExercise(ctx context.Context, id, name string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `
	INSERT INTO exercises (id, name) VALUES (?, ?)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	if _, err := db.conn.ExecContext(ctx, query, id, name); err != nil {
		return fmt.Errorf("upsert exercise: %w", err)
	}
	return nil
}
