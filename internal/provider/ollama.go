// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
)

const (
	// OllamaID identifies the native Ollama backend.
	OllamaID = "ollama"

	ollamaName = "Ollama"

	// DefaultOllamaBaseURL is used when an Ollama instance has no base URL.
	DefaultOllamaBaseURL = "http://127.0.0.1:11434"

	// maxOllamaLine bounds one NDJSON line; image echoes can be large.
	maxOllamaLine = 4 * 1024 * 1024
)

// =============================================================================
// WIRE TYPES
// =============================================================================

type ollamaMessage struct {
	Role     string   `json:"role"`
	Content  string   `json:"content"`
	Thinking string   `json:"thinking,omitempty"`
	Images   []string `json:"images,omitempty"` // base64, no data: prefix
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChatChunk is one line of a streamed /api/chat response.
type ollamaChatChunk struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	EvalDuration    int64         `json:"eval_duration,omitempty"` // nanoseconds
	Error           string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Model      string    `json:"model"`
		ModifiedAt time.Time `json:"modified_at"`
		Size       int64     `json:"size"`
		Details    struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

type ollamaErrorBody struct {
	Error string `json:"error"`
}

// =============================================================================
// OLLAMA MODEL
// =============================================================================

// Ollama talks to a local Ollama server over its native API. Reasoning
// models report their "thinking" field as reasoning chunks.
type Ollama struct {
	config     chat.ProviderInstanceConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tokenCount atomic.Int64
}

// NewOllama builds a model for cfg. An empty base URL means the default
// local server.
func NewOllama(cfg chat.ProviderInstanceConfig, opts Options) (*Ollama, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	// the native API lives beside the OpenAI-compatible /v1 prefix
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if err := opts.Offline.CheckURL(baseURL); err != nil {
		return nil, err
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = streamingClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Ollama{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: hc,
		logger:     logger.With("provider", OllamaID, "model", cfg.Model),
	}, nil
}

func (p *Ollama) ID() string { return OllamaID }

func (p *Ollama) ProviderName() string { return ollamaName }

func (p *Ollama) ModelName() string {
	if p.config.Model == "" {
		return "unknown"
	}
	return p.config.Model
}

func (p *Ollama) CompletionTokenCount() int {
	return int(p.tokenCount.Load())
}

// CountTokens estimates prompt tokens and reports the completion count of
// the most recent stream.
func (p *Ollama) CountTokens(messages []chat.Message) TokenUsage {
	prompt := EstimatePromptTokens(messages)
	completion := p.CompletionTokenCount()
	return TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Stream posts the conversation to /api/chat. Images go in the message's
// images field; text files are inlined like the OpenAI backend does.
// Web search is not supported and ignored.
func (p *Ollama) Stream(ctx context.Context, messages []chat.Message, _ StreamOptions) (ChunkReader, error) {
	p.tokenCount.Store(0)

	req := ollamaChatRequest{
		Model:    p.config.Model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   true,
	}
	for _, m := range messages {
		text, images := splitAttachments(m)
		om := ollamaMessage{Role: string(m.Role), Content: text}
		for _, a := range images {
			om.Images = append(om.Images, a.Data)
		}
		req.Messages = append(req.Messages, om)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ollama not reachable at %s: %w", p.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, ollamaStatusError(resp)
	}

	p.logger.Debug("stream opened", "messages", len(messages))
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOllamaLine)
	return &ollamaReader{
		body:    resp.Body,
		scanner: scanner,
		cancel:  cancel,
		counter: &p.tokenCount,
	}, nil
}

// AvailableModels lists the locally pulled models from /api/tags. On
// failure it returns an empty list together with the error.
func (p *Ollama) AvailableModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return []ModelInfo{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("listing models failed", "error", err)
		return []ModelInfo{}, fmt.Errorf("ollama not reachable at %s: %w", p.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return []ModelInfo{}, ollamaStatusError(resp)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return []ModelInfo{}, fmt.Errorf("decode model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := m.Name
		if id == "" {
			id = m.Model
		}
		var desc []string
		for _, d := range []string{m.Details.Family, m.Details.ParameterSize, m.Details.QuantizationLevel} {
			if d != "" {
				desc = append(desc, d)
			}
		}
		info := ModelInfo{
			ID:          id,
			Name:        id,
			Description: strings.Join(desc, " "),
		}
		if !m.ModifiedAt.IsZero() {
			info.CreatedAt = m.ModifiedAt.Unix()
		}
		models = append(models, info)
	}
	return models, nil
}

func ollamaStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(data))
	var body ollamaErrorBody
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// =============================================================================
// STREAM READER
// =============================================================================

type ollamaReader struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	cancel    context.CancelFunc
	counter   *atomic.Int64
	pending   []string
	cancelled atomic.Bool
	closed    bool
}

func (r *ollamaReader) Recv() (string, error) {
	for len(r.pending) == 0 {
		if r.closed || r.cancelled.Load() {
			r.close()
			return "", io.EOF
		}

		if !r.scanner.Scan() {
			err := r.scanner.Err()
			r.close()
			if err == nil || r.cancelled.Load() || errors.Is(err, context.Canceled) {
				return "", io.EOF
			}
			return "", err
		}

		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// skip malformed lines
			continue
		}
		if chunk.Error != "" {
			r.close()
			return "", &APIError{Message: chunk.Error}
		}

		if chunk.Message.Thinking != "" {
			r.pending = append(r.pending, ReasoningPrefix+chunk.Message.Thinking)
		}
		if chunk.Message.Content != "" {
			r.counter.Add(1)
			r.pending = append(r.pending, chunk.Message.Content)
		}
		if chunk.Done {
			r.closed = true
		}
	}

	c := r.pending[0]
	r.pending = r.pending[1:]
	return c, nil
}

// Cancel aborts the underlying request. Safe to call from any goroutine.
func (r *ollamaReader) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

func (r *ollamaReader) close() {
	if r.body == nil {
		return
	}
	r.closed = true
	r.body.Close()
	r.body = nil
	r.cancel()
}
