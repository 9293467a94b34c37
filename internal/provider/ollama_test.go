// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/offline"
)

func ndjsonServer(t *testing.T, lines []string, seen *ollamaChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			if seen != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			w.Header().Set("Content-Type", "application/x-ndjson")
			for _, l := range lines {
				fmt.Fprintln(w, l)
			}
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3.2:3b","modified_at":"2025-01-02T03:04:05Z","details":{"family":"llama","parameter_size":"3.2B","quantization_level":"Q4_K_M"}},{"name":"qwen3:8b","details":{}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOllama(t *testing.T, baseURL string) *Ollama {
	t.Helper()
	m, err := NewOllama(chat.ProviderInstanceConfig{BaseURL: baseURL, Model: "llama3.2:3b"}, Options{HTTPClient: http.DefaultClient})
	require.NoError(t, err)
	return m
}

func TestOllama_Stream(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"model":"llama3.2:3b","message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`,
		`{"model":"llama3.2:3b","message":{"role":"assistant","content":"Hel"},"done":false}`,
		``,
		`not json`,
		`{"model":"llama3.2:3b","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"llama3.2:3b","message":{"role":"assistant","content":""},"done":true,"eval_count":2}`,
	}, nil)
	m := newTestOllama(t, srv.URL)

	r, err := m.Stream(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, StreamOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{ReasoningPrefix + "hmm", "Hel", "lo"}, drain(t, r))
	assert.Equal(t, 2, m.CompletionTokenCount())
}

func TestOllama_StreamSendsImages(t *testing.T) {
	var seen ollamaChatRequest
	srv := ndjsonServer(t, []string{`{"message":{"content":"a cat"},"done":true}`}, &seen)
	m := newTestOllama(t, srv.URL)

	img := base64.StdEncoding.EncodeToString([]byte("png"))
	txt := base64.StdEncoding.EncodeToString([]byte("package main\n"))
	r, err := m.Stream(context.Background(), []chat.Message{{
		Role:    chat.RoleUser,
		Content: "what is this",
		Attachments: []chat.Attachment{
			{Type: "image", Name: "cat.png", MimeType: "image/png", Data: img},
			{Type: "file", Name: "main.go", MimeType: "text/plain; charset=utf-8", Data: txt},
		},
	}}, StreamOptions{})
	require.NoError(t, err)
	drain(t, r)

	require.Len(t, seen.Messages, 1)
	assert.True(t, seen.Stream)
	assert.Equal(t, "llama3.2:3b", seen.Model)
	assert.Equal(t, []string{img}, seen.Messages[0].Images)
	assert.Equal(t, "what is this\n\nFile: main.go\n```\npackage main\n```", seen.Messages[0].Content)
}

func TestOllama_StreamErrorLine(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"content":"par"},"done":false}`,
		`{"error":"model runner crashed"}`,
	}, nil)
	m := newTestOllama(t, srv.URL)

	r, err := m.Stream(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, StreamOptions{})
	require.NoError(t, err)

	c, err := r.Recv()
	require.NoError(t, err)
	assert.Equal(t, "par", c)

	_, err = r.Recv()
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "model runner crashed", apiErr.Message)
}

func TestOllama_StreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found, try pulling it first"}`)
	}))
	defer srv.Close()
	m := newTestOllama(t, srv.URL)

	_, err := m.Stream(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, StreamOptions{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "not found")
}

func TestOllama_Cancel(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"content":"one"},"done":false}`,
		`{"message":{"content":"two"},"done":false}`,
	}, nil)
	m := newTestOllama(t, srv.URL)

	r, err := m.Stream(context.Background(), []chat.Message{{Role: chat.RoleUser, Content: "hi"}}, StreamOptions{})
	require.NoError(t, err)
	r.Cancel()
	_, err = r.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOllama_AvailableModels(t *testing.T) {
	srv := ndjsonServer(t, nil, nil)
	m := newTestOllama(t, srv.URL+"/v1")

	models, err := m.AvailableModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2:3b", models[0].ID)
	assert.Equal(t, "llama 3.2B Q4_K_M", models[0].Description)
	assert.Equal(t, int64(1735787045), models[0].CreatedAt)
	assert.Equal(t, "qwen3:8b", models[1].ID)
	assert.Zero(t, models[1].CreatedAt)
}

func TestOllama_DefaultsAndOffline(t *testing.T) {
	m, err := NewOllama(chat.ProviderInstanceConfig{}, Options{Offline: offline.New(true)})
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaBaseURL, m.baseURL)
	assert.Equal(t, "unknown", m.ModelName())
	assert.Equal(t, "Ollama", m.ProviderName())

	_, err = NewOllama(chat.ProviderInstanceConfig{BaseURL: "http://gpu-box.lan:11434"}, Options{Offline: offline.New(true)})
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)

	_, err = NewOpenAICompatible(chat.ProviderInstanceConfig{}, Options{Offline: offline.New(true)})
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)
}

func TestRegistry_OllamaType(t *testing.T) {
	reg := NewRegistry(Options{})
	assert.Equal(t, []string{TypeOllama, TypeOpenAI}, reg.Types())

	lm, err := reg.ForInstance(chat.ProviderInstance{ProviderType: TypeOllama}, "qwen3:8b")
	require.NoError(t, err)
	assert.Equal(t, OllamaID, lm.ID())
	assert.Equal(t, "qwen3:8b", lm.ModelName())
}
