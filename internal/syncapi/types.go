// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncapi

import "encoding/json"

// =============================================================================
// ENVELOPE
// =============================================================================

// Response is the envelope every endpoint returns.
type Response[T any] struct {
	Success bool      `json:"success"`
	Data    *T        `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// Err returns the server's error when the call did not succeed. The
// server's message wins over fallback.
func (r *Response[T]) Err(fallback string) error {
	if r.Success {
		return nil
	}
	return r.failure(fallback)
}

// DataErr is Err that also treats a missing payload as failure.
func (r *Response[T]) DataErr(fallback string) error {
	if r.Success && r.Data != nil {
		return nil
	}
	return r.failure(fallback)
}

func (r *Response[T]) failure(fallback string) error {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error
	}
	out := &APIError{Message: fallback}
	if r.Error != nil {
		out.Code = r.Error.Code
		out.Details = r.Error.Details
	}
	return out
}

// SyncRequest wraps a payload pushed by one machine for one user.
type SyncRequest[T any] struct {
	MachineID string `json:"machine_id"`
	UserID    string `json:"user_id"`
	Data      T      `json:"data"`
	Version   int64  `json:"version"`
}

// =============================================================================
// AUTH
// =============================================================================

// Health is the /health payload.
type Health struct {
	Status string `json:"status"`
}

// GenerateWalletRequest asks the server for a new user id.
type GenerateWalletRequest struct {
	Passphrase string `json:"passphrase"`
}

// GenerateWalletResponse carries the new user id.
type GenerateWalletResponse struct {
	UID       string `json:"uid"`
	CreatedAt string `json:"created_at"`
}

// LoginRequest authenticates a user id with its passphrase.
type LoginRequest struct {
	UserID     string `json:"user_id"`
	Passphrase string `json:"passphrase"`
}

// LoginResponse is the login payload.
type LoginResponse struct {
	Tokens AuthTokens `json:"tokens"`
	UserID string     `json:"user_id"`
}

// RefreshRequest exchanges a refresh token for new tokens.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthTokens is a bearer token pair. ExpiresAt is an ISO-8601 timestamp
// and may be empty.
type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// =============================================================================
// SETTINGS RESOURCES
// =============================================================================

// ProviderInstances maps instance id to the encrypted instance JSON.
type ProviderInstances struct {
	Providers map[string]string `json:"providers"`
	UpdatedAt string            `json:"updated_at"`
	CreatedAt string            `json:"created_at"`
}

// DisabledModels maps instance id to the encrypted JSON array of model ids.
type DisabledModels struct {
	Models    map[string]string `json:"models"`
	UpdatedAt string            `json:"updated_at"`
	CreatedAt string            `json:"created_at"`
}

// AdvancedSettings maps setting key to its encrypted JSON value.
type AdvancedSettings struct {
	Settings  map[string]string `json:"settings"`
	UpdatedAt string            `json:"updated_at"`
	CreatedAt string            `json:"created_at"`
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SyncThread is a thread header. Every field but ID is encrypted.
type SyncThread struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	MessageCount         string `json:"messageCount"`
	LastMessageDate      string `json:"lastMessageDate"`
	Pinned               string `json:"pinned"`
	ProviderInstanceID   string `json:"providerInstanceId"`
	Model                string `json:"model"`
	BranchedFrom         string `json:"branchedFrom,omitempty"`
	WebSearchEnabled     string `json:"webSearchEnabled"`
	WebSearchContextSize string `json:"webSearchContextSize"`
	UpdatedAt            string `json:"updated_at"`
	CreatedAt            string `json:"created_at"`
}

// SyncMessage is one message. ID, UserID and ThreadIDPlain are plain so the
// server can index them; the rest is encrypted.
type SyncMessage struct {
	ID                   string `json:"id"`
	UserID               string `json:"user_id"`
	ThreadIDPlain        string `json:"thread_id"`
	ThreadID             string `json:"threadId"`
	Role                 string `json:"role"`
	Content              string `json:"content"`
	AttachmentIDs        string `json:"attachmentIds,omitempty"`
	Reasoning            string `json:"reasoning,omitempty"`
	ProviderInstanceID   string `json:"providerInstanceId,omitempty"`
	Model                string `json:"model,omitempty"`
	Usage                string `json:"usage,omitempty"`
	Metrics              string `json:"metrics,omitempty"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
	Error                string `json:"error,omitempty"`
	WebSearchEnabled     string `json:"webSearchEnabled,omitempty"`
	WebSearchContextSize string `json:"webSearchContextSize,omitempty"`
	Version              int64  `json:"version"`
}

// =============================================================================
// CHANGES
// =============================================================================

// Change operation kinds.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Change resource names.
const (
	ResourceProviderInstances = "provider_instances"
	ResourceDisabledModels    = "disabled_models"
	ResourceAdvancedSettings  = "advanced_settings"
	ResourceThread            = "thread"
	ResourceMessage           = "message"
)

// ChangeOperation is one discrete change. Data holds the resource payload
// in the same shape the resource is pushed with.
type ChangeOperation struct {
	Resource  string          `json:"resource"`
	Operation string          `json:"operation"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// ChangesSince is the changes-since payload: full snapshots on a first
// sync, operations afterwards.
type ChangesSince struct {
	Threads           []SyncThread       `json:"threads,omitempty"`
	Messages          []SyncMessage      `json:"messages,omitempty"`
	ProviderInstances *ProviderInstances `json:"provider_instances,omitempty"`
	DisabledModels    *DisabledModels    `json:"disabled_models,omitempty"`
	AdvancedSettings  *AdvancedSettings  `json:"advanced_settings,omitempty"`
	Operations        []ChangeOperation  `json:"operations,omitempty"`
	SyncTimestamp     string             `json:"sync_timestamp"`
}
