// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/util"
)

// ReasoningPrefix marks a chunk as reasoning output.
const ReasoningPrefix = "[REASONING]"

// =============================================================================
// MODEL METADATA
// =============================================================================

// ModelInfo describes one model offered by a provider instance.
type ModelInfo struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Description            string   `json:"description,omitempty"`
	ContextWindow          int      `json:"contextWindow,omitempty"`
	CreatedAt              int64    `json:"createdAt,omitempty"`
	Deprecated             bool     `json:"deprecated,omitempty"`
	InputModalities        []string `json:"inputModalities,omitempty"`
	OutputModalities       []string `json:"outputModalities,omitempty"`
	SupportsWebSearch      bool     `json:"supportsWebSearch,omitempty"`
	WebSearchModelRedirect string   `json:"webSearchModelRedirect,omitempty"`
}

// TokenUsage is a token estimate for a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// WebSearchOptions asks the backend to ground the answer in a web search.
type WebSearchOptions struct {
	Enabled           bool
	SearchContextSize string
}

// StreamOptions are per-request knobs.
type StreamOptions struct {
	WebSearch *WebSearchOptions
}

// =============================================================================
// INTERFACES
// =============================================================================

// ChunkReader yields the chunks of one streamed response. Recv returns
// io.EOF when the stream ends, including after Cancel.
type ChunkReader interface {
	Recv() (string, error)
	Cancel()
}

// LanguageModel is a configured model endpoint.
type LanguageModel interface {
	ID() string
	ProviderName() string
	ModelName() string

	// Stream starts a completion. The completion token count restarts at
	// zero for every call.
	Stream(ctx context.Context, messages []chat.Message, opts StreamOptions) (ChunkReader, error)

	// CompletionTokenCount is the number of content chunks received by the
	// most recent stream.
	CompletionTokenCount() int

	AvailableModels(ctx context.Context) ([]ModelInfo, error)
}

// TokenCounter is implemented by models that can estimate prompt size.
type TokenCounter interface {
	CountTokens(messages []chat.Message) TokenUsage
}

// EstimatePromptTokens is the heuristic used by backends without a
// tokenizer: 4 tokens of framing per message, 1.3 tokens per
// whitespace-separated piece of content (at least 1), and 3 for the reply
// primer.
func EstimatePromptTokens(messages []chat.Message) int {
	tokens := 0
	for _, m := range messages {
		tokens += 4
		if m.Content != "" {
			content := int(math.Ceil(float64(util.SplitCount(m.Content)) * 1.3))
			tokens += max(1, content)
		}
	}
	return tokens + 3
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a structured failure reported by a backend.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Param      *string
	Code       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}

// =============================================================================
// SLICE READER
// =============================================================================

// SliceReader replays a fixed list of chunks, then returns Err (or io.EOF).
type SliceReader struct {
	mu        sync.Mutex
	chunks    []string
	Err       error
	cancelled bool
}

// NewSliceReader returns a reader over chunks.
func NewSliceReader(chunks ...string) *SliceReader {
	return &SliceReader{chunks: chunks}
}

func (r *SliceReader) Recv() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return "", io.EOF
	}
	if len(r.chunks) == 0 {
		if r.Err != nil {
			return "", r.Err
		}
		return "", io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, nil
}

func (r *SliceReader) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
}
