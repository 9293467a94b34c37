// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_LoginAndBearer(t *testing.T) {
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/v1/auth/login":
			assert.Equal(t, http.MethodPost, r.Method)
			var req LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "user-1", req.UserID)
			assert.Equal(t, "secret words", req.Passphrase)
			writeJSON(t, w, map[string]any{
				"success": true,
				"data": map[string]any{
					"user_id": "user-1",
					"tokens":  map[string]any{"access_token": "at", "refresh_token": "rt", "expires_at": "2030-01-01T00:00:00Z"},
				},
			})
		case "/api/v1/sync/changes-since/1234":
			writeJSON(t, w, map[string]any{"success": true, "data": map[string]any{"sync_timestamp": "2030-01-01T00:00:00Z"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	assert.Equal(t, srv.URL, c.BaseURL())

	resp, err := c.Login(context.Background(), LoginRequest{UserID: "user-1", Passphrase: "secret words"})
	require.NoError(t, err)
	require.NoError(t, resp.DataErr("Login failed"))
	assert.Equal(t, "at", resp.Data.Tokens.AccessToken)

	c.SetAccessToken(resp.Data.Tokens.AccessToken)
	changes, err := c.ChangesSince(context.Background(), 1234)
	require.NoError(t, err)
	assert.Equal(t, "2030-01-01T00:00:00Z", changes.Data.SyncTimestamp)

	assert.Equal(t, []string{"", "Bearer at"}, gotAuth)
}

func TestClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetProviderInstances(context.Background())
	require.Error(t, err)
	assert.EqualError(t, err, "HTTP 401: Unauthorized")

	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 401, he.Status)
	assert.True(t, IsUnauthorized(err))
}

func TestIsUnauthorized(t *testing.T) {
	assert.False(t, IsUnauthorized(nil))
	assert.False(t, IsUnauthorized(&HTTPError{Status: 500, StatusText: "Internal Server Error"}))
	assert.True(t, IsUnauthorized(fmt.Errorf("wrapped: %w", &HTTPError{Status: 401})))
	assert.True(t, IsUnauthorized(errors.New("request failed: Unauthorized")))
}

func TestResponse_Err(t *testing.T) {
	ok := &Response[Health]{Success: true}
	assert.NoError(t, ok.Err("x"))
	assert.EqualError(t, ok.DataErr("Missing data"), "Missing data")

	withMsg := &Response[Health]{Error: &APIError{Code: 409, Message: "wallet exists"}}
	assert.EqualError(t, withMsg.Err("Failed to generate wallet"), "wallet exists")

	bare := &Response[Health]{Error: &APIError{Code: 500}}
	err := bare.Err("Failed to generate wallet")
	assert.EqualError(t, err, "Failed to generate wallet")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Code)
}

func TestClient_UpsertMessageEnvelope(t *testing.T) {
	var got SyncRequest[SyncMessage]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/sync/messages/msg-1", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]any{"success": true})
	}))
	defer srv.Close()

	req := SyncRequest[SyncMessage]{
		MachineID: "machine",
		UserID:    "user",
		Version:   42,
		Data:      SyncMessage{ID: "msg-1", UserID: "user", ThreadIDPlain: "t1", ThreadID: "enc", Role: "enc", Content: "enc"},
	}
	resp, err := New(srv.URL).UpsertMessage(context.Background(), "msg-1", req)
	require.NoError(t, err)
	assert.NoError(t, resp.Err("Failed"))
	assert.Equal(t, req, got)
}

func TestClient_GuardRefusesBeforeDialing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(t, w, map[string]any{"success": true, "data": map[string]any{"status": "ok"}})
	}))
	defer srv.Close()

	blocked := errors.New("blocked")
	var seen string
	c := New(srv.URL).WithGuard(func(rawURL string) error {
		seen = rawURL
		return blocked
	})

	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, blocked)
	assert.Equal(t, srv.URL, seen)
	assert.False(t, called)
}
