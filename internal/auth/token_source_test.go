// Pulse - Real-time Activity Pipeline for MuscleMap
// Copyright 2026 MuscleMap
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/musclemap/pulse

package auth

import (
	"net/http/httptest"
	"testing"
)

func TestResolveToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    string
	}{
		{
			name: "query parameter",
			url:  "/ws?token=query-token",
			want: "query-token",
		},
		{
			name: "subprotocol second value",
			url:  "/ws",
			headers: map[string]string{
				"Sec-WebSocket-Protocol": "pulse.v1, proto-token",
			},
			want: "proto-token",
		},
		{
			name: "subprotocol with single value carries no token",
			url:  "/ws",
			headers: map[string]string{
				"Sec-WebSocket-Protocol": "pulse.v1",
			},
			want: "",
		},
		{
			name: "bearer header",
			url:  "/ws",
			headers: map[string]string{
				"Authorization": "Bearer header-token",
			},
			want: "header-token",
		},
		{
			name: "non-bearer authorization ignored",
			url:  "/ws",
			headers: map[string]string{
				"Authorization": "Basic dXNlcjpwYXNz",
			},
			want: "",
		},
		{
			name: "query outranks subprotocol and header",
			url:  "/ws?token=query-token",
			headers: map[string]string{
				"Sec-WebSocket-Protocol": "pulse.v1, proto-token",
				"Authorization":          "Bearer header-token",
			},
			want: "query-token",
		},
		{
			name: "subprotocol outranks header",
			url:  "/ws",
			headers: map[string]string{
				"Sec-WebSocket-Protocol": "pulse.v1, proto-token",
				"Authorization":          "Bearer header-token",
			},
			want: "proto-token",
		},
		{
			name: "no token anywhere",
			url:  "/ws",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ResolveToken(r); got != tt.want {
				t.Errorf("ResolveToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
