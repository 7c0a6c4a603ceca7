// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/musclemap/pulse/internal/config"
)

func newTestManager(t *testing.T, timeout time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "test-secret-that-is-long-enough-123",
		SessionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewJWTManager() error: %v", err)
	}
	return m
}

func TestNewJWTManager_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTManager(&config.SecurityConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Hour)

	token, err := m.GenerateToken("user-1", RoleModerator)
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", claims.UserID)
	}
	if claims.Role != RoleModerator {
		t.Errorf("Role = %q, want moderator", claims.Role)
	}
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, -time.Minute)
	token, err := m.GenerateToken("user-1", RoleMember)
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Hour)
	other, err := NewJWTManager(&config.SecurityConfig{
		JWTSecret:      "a-completely-different-secret-value",
		SessionTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJWTManager() error: %v", err)
	}

	token, err := other.GenerateToken("user-1", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Error("expected error for token signed with another secret")
	}
}

func TestValidateToken_RejectsNonHMAC(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Hour)

	// alg=none tokens must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "user-1", Role: RoleAdmin})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	if _, err := m.ValidateToken(unsigned); err == nil {
		t.Error("expected error for alg=none token")
	}
}

func TestValidateToken_RejectsGarbage(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := m.ValidateToken(token); err == nil {
			t.Errorf("ValidateToken(%q) accepted garbage", token)
		}
	}
}

func TestRoleAtLeast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role     string
		required string
		want     bool
	}{
		{RoleAdmin, RoleModerator, true},
		{RoleModerator, RoleModerator, true},
		{RoleMember, RoleModerator, false},
		{RoleAdmin, RoleAdmin, true},
		{RoleModerator, RoleAdmin, false},
		{"", RoleMember, false},
		{"superuser", RoleMember, false},
		{RoleMember, RoleMember, true},
	}

	for _, tt := range tests {
		if got := RoleAtLeast(tt.role, tt.required); got != tt.want {
			t.Errorf("RoleAtLeast(%q, %q) = %v, want %v", tt.role, tt.required, got, tt.want)
		}
	}
}
