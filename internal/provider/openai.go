// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigchat/internal/chat"
)

const (
	// OpenAICompatibleID identifies the OpenAI-compatible backend in errors
	// and metadata.
	OpenAICompatibleID = "openai-compatible"

	openAICompatibleName = "OpenAI-Compatible"

	// DefaultOpenAIBaseURL is used when an instance has no base URL.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// streamingClient has no overall timeout; streams are bounded by their
// context.
var streamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// =============================================================================
// OPENAI-COMPATIBLE MODEL
// =============================================================================

// OpenAICompatible talks to any endpoint implementing the OpenAI chat
// completions API.
type OpenAICompatible struct {
	config     chat.ProviderInstanceConfig
	client     *openai.Client
	logger     *slog.Logger
	tokenCount atomic.Int64
}

// NewOpenAICompatible builds a model for cfg. The HTTP client in opts, if
// any, replaces the shared streaming client.
func NewOpenAICompatible(cfg chat.ProviderInstanceConfig, opts Options) (*OpenAICompatible, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	} else {
		clientCfg.BaseURL = DefaultOpenAIBaseURL
	}
	if err := opts.Offline.CheckURL(clientCfg.BaseURL); err != nil {
		return nil, err
	}
	if opts.HTTPClient != nil {
		clientCfg.HTTPClient = opts.HTTPClient
	} else {
		clientCfg.HTTPClient = streamingClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAICompatible{
		config: cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With("provider", OpenAICompatibleID, "model", cfg.Model),
	}, nil
}

func (p *OpenAICompatible) ID() string { return OpenAICompatibleID }

func (p *OpenAICompatible) ProviderName() string { return openAICompatibleName }

func (p *OpenAICompatible) ModelName() string {
	if p.config.Model == "" {
		return "unknown"
	}
	return p.config.Model
}

func (p *OpenAICompatible) CompletionTokenCount() int {
	return int(p.tokenCount.Load())
}

// Stream sends each message with its attachments: images as data URL
// parts, text files inline. Web search options are accepted and ignored.
func (p *OpenAICompatible) Stream(ctx context.Context, messages []chat.Message, _ StreamOptions) (ChunkReader, error) {
	p.tokenCount.Store(0)

	req := openai.ChatCompletionRequest{
		Model:    p.config.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, toOpenAIMessage(m))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := p.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, convertError(err)
	}

	p.logger.Debug("stream opened", "messages", len(messages))
	return &openAIReader{
		stream:  stream,
		cancel:  cancel,
		counter: &p.tokenCount,
	}, nil
}

// CountTokens estimates prompt tokens and reports the completion count of
// the most recent stream.
func (p *OpenAICompatible) CountTokens(messages []chat.Message) TokenUsage {
	prompt := EstimatePromptTokens(messages)
	completion := p.CompletionTokenCount()
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// AvailableModels lists the endpoint's models. On failure it returns an
// empty list together with the error.
func (p *OpenAICompatible) AvailableModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		p.logger.Warn("listing models failed", "error", err)
		return []ModelInfo{}, convertError(err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{
			ID:          m.ID,
			Name:        m.ID,
			Description: "OpenAI-compatible model " + m.ID,
			CreatedAt:   m.CreatedAt,
		})
	}
	return models, nil
}

// =============================================================================
// STREAM READER
// =============================================================================

type openAIReader struct {
	stream    *openai.ChatCompletionStream
	cancel    context.CancelFunc
	counter   *atomic.Int64
	pending   []string
	cancelled atomic.Bool
	closed    bool
}

func (r *openAIReader) Recv() (string, error) {
	for len(r.pending) == 0 {
		if r.closed || r.cancelled.Load() {
			r.close()
			return "", io.EOF
		}

		resp, err := r.stream.Recv()
		if err != nil {
			r.close()
			if errors.Is(err, io.EOF) || r.cancelled.Load() {
				return "", io.EOF
			}
			return "", convertError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.ReasoningContent != "" {
			r.pending = append(r.pending, ReasoningPrefix+delta.ReasoningContent)
		}
		if delta.Content != "" {
			r.counter.Add(1)
			r.pending = append(r.pending, delta.Content)
		}
	}

	chunk := r.pending[0]
	r.pending = r.pending[1:]
	return chunk, nil
}

// Cancel aborts the underlying request. Safe to call from any goroutine.
func (r *openAIReader) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

func (r *openAIReader) close() {
	if r.closed {
		return
	}
	r.closed = true
	r.stream.Close()
	r.cancel()
}

// =============================================================================
// ERROR CONVERSION
// =============================================================================

func convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out := &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Type:       apiErr.Type,
			Param:      apiErr.Param,
		}
		if apiErr.Code != nil {
			out.Code = fmt.Sprint(apiErr.Code)
		}
		return out
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("request failed (HTTP %d): %w", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return err
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func toOpenAIMessage(m chat.Message) openai.ChatCompletionMessage {
	text, images := splitAttachments(m)
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: string(m.Role), Content: text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	for _, a := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + a.MimeType + ";base64," + a.Data,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: string(m.Role), MultiContent: parts}
}

// splitAttachments inlines text files into the message content and
// returns the image attachments separately. Other files become a one-line
// placeholder.
func splitAttachments(m chat.Message) (string, []chat.Attachment) {
	text := m.Content
	var images []chat.Attachment
	for _, a := range m.Attachments {
		switch {
		case a.Type == "image" || strings.HasPrefix(a.MimeType, "image/"):
			images = append(images, a)
		case isTextMime(a.MimeType):
			body, err := base64.StdEncoding.DecodeString(a.Data)
			if err != nil {
				text += fmt.Sprintf("\n\n[Attached file %s could not be decoded]", a.Name)
				continue
			}
			text += fmt.Sprintf("\n\nFile: %s\n```\n%s\n```", a.Name, strings.TrimRight(string(body), "\n"))
		default:
			text += fmt.Sprintf("\n\n[Attached file %s (%s, %d bytes)]", a.Name, a.MimeType, a.Size)
		}
	}
	return text, images
}

func isTextMime(mime string) bool {
	mime, _, _ = strings.Cut(mime, ";")
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case mime == "application/json", mime == "application/xml", mime == "application/yaml",
		mime == "application/x-yaml", mime == "application/toml", mime == "application/javascript":
		return true
	}
	return false
}
