// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Web search context sizes.
const (
	SearchContextLow    = "low"
	SearchContextMedium = "medium"
	SearchContextHigh   = "high"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Attachment is a file or image carried by a message. PreviewURL is derived
// for display and never persisted.
type Attachment struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // image | file
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mimeType"`
	Data       string `json:"data"` // base64
	PreviewURL string `json:"-"`
}

// Usage is the token accounting for one assistant turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StreamMetrics describes the timing of one assistant turn. Times are unix
// milliseconds, durations are milliseconds.
type StreamMetrics struct {
	StartTime        int64    `json:"startTime"`
	EndTime          int64    `json:"endTime,omitempty"`
	TotalTime        int64    `json:"totalTime,omitempty"`
	TokensPerSecond  *float64 `json:"tokensPerSecond,omitempty"`
	PromptTokens     int      `json:"promptTokens"`
	CompletionTokens int      `json:"completionTokens"`
	TotalTokens      int      `json:"totalTokens"`
	ThinkingTime     *int64   `json:"thinkingTime,omitempty"`
}

// ChatError is the structured failure attached to an assistant message.
type ChatError struct {
	Message  string  `json:"message"`
	Type     string  `json:"type"`
	Param    *string `json:"param"`
	Code     string  `json:"code,omitempty"`
	Provider string  `json:"provider"`
}

func (e *ChatError) Error() string {
	return e.Provider + ": " + e.Message
}

// Message is one entry in a conversation.
type Message struct {
	ID                   string         `json:"id"`
	Role                 Role           `json:"role"`
	Content              string         `json:"content"`
	Reasoning            string         `json:"reasoning,omitempty"`
	Attachments          []Attachment   `json:"attachments,omitempty"`
	ProviderInstanceID   string         `json:"providerInstanceId,omitempty"`
	Model                string         `json:"model,omitempty"`
	Usage                *Usage         `json:"usage,omitempty"`
	Metrics              *StreamMetrics `json:"metrics,omitempty"`
	Error                *ChatError     `json:"error,omitempty"`
	WebSearchEnabled     *bool          `json:"webSearchEnabled,omitempty"`
	WebSearchContextSize string         `json:"webSearchContextSize,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// AttachmentIDs returns the ids of m's attachments in order.
func (m Message) AttachmentIDs() []string {
	if len(m.Attachments) == 0 {
		return nil
	}
	ids := make([]string, len(m.Attachments))
	for i, a := range m.Attachments {
		ids[i] = a.ID
	}
	return ids
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// BranchRef points at the message a chat was branched from.
type BranchRef struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

// Chat is a conversation with its messages in memory. Temporary chats are
// never persisted or synced.
type Chat struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Messages             []Message  `json:"messages"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	ProviderInstanceID   string     `json:"providerInstanceId,omitempty"`
	Model                string     `json:"model,omitempty"`
	Pinned               bool       `json:"pinned,omitempty"`
	BranchedFrom         *BranchRef `json:"branchedFrom,omitempty"`
	WebSearchEnabled     bool       `json:"webSearchEnabled,omitempty"`
	WebSearchContextSize string     `json:"webSearchContextSize,omitempty"`
	IsTemporary          bool       `json:"isTemporary,omitempty"`
}

// Thread is the persisted header of a chat.
type Thread struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	LastMessageDate      time.Time  `json:"lastMessageDate"`
	MessageCount         int        `json:"messageCount"`
	ProviderInstanceID   string     `json:"providerInstanceId,omitempty"`
	Model                string     `json:"model,omitempty"`
	Pinned               bool       `json:"pinned,omitempty"`
	BranchedFrom         *BranchRef `json:"branchedFrom,omitempty"`
	WebSearchEnabled     bool       `json:"webSearchEnabled,omitempty"`
	WebSearchContextSize string     `json:"webSearchContextSize,omitempty"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// ProviderInstanceConfig holds the connection details of a provider instance.
type ProviderInstanceConfig struct {
	APIKey          string            `json:"apiKey,omitempty"`
	BaseURL         string            `json:"baseURL,omitempty"`
	Model           string            `json:"model,omitempty"`
	MatchedProvider string            `json:"matchedProvider,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ProviderInstance is a user-configured connection to a provider.
type ProviderInstance struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	ProviderType string                 `json:"providerType"`
	Config       ProviderInstanceConfig `json:"config"`
}

// ProviderInstances is keyed by instance id.
type ProviderInstances map[string]ProviderInstance

// DisabledModels maps a provider instance id to its hidden model ids.
type DisabledModels map[string][]string

// AdvancedSettings are user preferences synced across devices.
type AdvancedSettings struct {
	SystemPrompt           string `json:"systemPrompt"`
	TitleGenerationEnabled bool   `json:"titleGenerationEnabled"`
	TitleGenerationModel   string `json:"titleGenerationModel,omitempty"`
}
