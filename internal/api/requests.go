// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package api

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/musclemap/pulse/internal/database"
)

// validate is the shared validator instance; validators are stateless and
// safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// EmitRequest is the body of POST /events.
type EmitRequest struct {
	UserID    string         `json:"user_id" validate:"required,max=128"`
	EventType string         `json:"event_type" validate:"required,max=64"`
	Payload   map[string]any `json:"payload"`
	GeoBucket string         `json:"geo_bucket" validate:"omitempty,max=64"`
	StageID   string         `json:"stage_id" validate:"omitempty,max=128"`
	JourneyID string         `json:"journey_id" validate:"omitempty,max=128"`
}

// HeartbeatRequest is the body of POST /heartbeat.
type HeartbeatRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	GeoBucket string `json:"geo_bucket" validate:"omitempty,max=64"`
	StageID   string `json:"stage_id" validate:"omitempty,max=128"`
	JourneyID string `json:"journey_id" validate:"omitempty,max=128"`
}

// decodeAndValidate decodes a JSON body into dst and runs validation.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// encodeCursor serializes a feed cursor into an opaque URL-safe token.
func encodeCursor(c *database.FeedCursor) string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeCursor parses an opaque cursor token. Empty input is a nil cursor.
func decodeCursor(s string) (*database.FeedCursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var c database.FeedCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	return &c, nil
}
