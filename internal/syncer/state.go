// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeranaias/rigchat/internal/syncapi"
)

// Keys in the settings namespace.
const (
	keySyncSettings = "syncSettings"
	keyAuthState    = "authState"
	keyMachineID    = "machineId"
)

// Settings identify the sync account on this device.
type Settings struct {
	ServerURL      string `json:"serverUrl"`
	UserID         string `json:"userId,omitempty"`
	PassphraseHash string `json:"passphraseHash,omitempty"`
}

// AuthState is the persisted session.
type AuthState struct {
	IsAuthenticated bool                `json:"isAuthenticated"`
	UserID          string              `json:"userId,omitempty"`
	Tokens          *syncapi.AuthTokens `json:"tokens,omitempty"`
	ServerURL       string              `json:"serverUrl,omitempty"`
}

// TokenExpiry returns when the access token expires. The server's
// expires_at wins; without it the token's own exp claim is used. ok is
// false when neither is known.
func TokenExpiry(tokens *syncapi.AuthTokens) (time.Time, bool) {
	if tokens == nil {
		return time.Time{}, false
	}
	if tokens.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, tokens.ExpiresAt); err == nil {
			return t, true
		}
	}
	if tokens.AccessToken == "" {
		return time.Time{}, false
	}

	// SECURITY: the claim only schedules a refresh; the server still
	// verifies the signature on every request.
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.AccessToken, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
