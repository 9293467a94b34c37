// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import "errors"

// User-facing sync errors.
var (
	ErrNoAPIClient          = errors.New("No API client available")
	ErrNoRefreshToken       = errors.New("No refresh token available")
	ErrUserNotAuthenticated = errors.New("User not authenticated")
	ErrRefreshFailed        = errors.New("Token refresh failed. Please log in again.")
	ErrAuthExpired          = errors.New("Authentication expired. Please log in again.")
	ErrNotAuthenticated     = errors.New("Not authenticated")
	ErrNoPassphraseHash     = errors.New("No passphrase hash available for encryption")
	ErrNoUserID             = errors.New("User ID not available")
	ErrClientUnavailable    = errors.New("API client not available")
)

// Fallback messages used when the server reports failure without one.
const (
	msgGenerateWallet  = "Failed to generate wallet"
	msgLogin           = "Login failed"
	msgRefresh         = "Token refresh failed"
	msgGetProviders    = "Failed to get provider instances"
	msgGetDisabled     = "Failed to get disabled models"
	msgGetAdvanced     = "Failed to get advanced settings"
	msgUpdateProviders = "Failed to update provider instances"
	msgUpdateDisabled  = "Failed to update disabled models"
	msgUpdateAdvanced  = "Failed to update advanced settings"
	msgChangesSince    = "Failed to get changes since last sync"
)
