// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/offline"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/streaming"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// modelServer is an OpenAI-compatible endpoint that answers every
// completion with the same words.
func modelServer(t *testing.T, words ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
		case "/v1/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			for _, word := range words {
				b, _ := json.Marshal(map[string]any{
					"id":      "chatcmpl-1",
					"object":  "chat.completion.chunk",
					"created": 1,
					"model":   "test-model",
					"choices": []any{map[string]any{"index": 0, "delta": map[string]string{"content": word}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", b)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "rigchat.db")
	cfg.Provider.APIKey = "sk-test"
	cfg.Provider.BaseURL = baseURL + "/v1"
	cfg.Provider.DefaultModel = "test-model"
	cfg.General.SystemPrompt = "Be brief."
	return cfg
}

func openApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Open(context.Background(), cfg, logging.Discard(), Options{
		SaverConfig: session.Config{AutoSaveDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

// =============================================================================
// TESTS
// =============================================================================

func TestOpen_SeedsProviderAndSettingsFromConfig(t *testing.T) {
	srv := modelServer(t)
	a := openApp(t, testConfig(t, srv.URL))
	defer a.Close()

	inst, ok := a.Providers.Get()["default"]
	require.True(t, ok)
	assert.Equal(t, "openai", inst.ProviderType)
	assert.Equal(t, srv.URL+"/v1", inst.Config.BaseURL)
	assert.Equal(t, "Be brief.", a.Advanced.Get().SystemPrompt)

	sel, err := a.DefaultSelection()
	require.NoError(t, err)
	assert.Equal(t, Selection{InstanceID: "default", ModelID: "test-model"}, sel)
}

func TestOpen_NoProvider(t *testing.T) {
	cfg := config.Default()
	a, err := Open(context.Background(), cfg, logging.Discard(), Options{KV: storage.NewMemoryStore()})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.DefaultSelection()
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestApp_SendPersistsAcrossRestart(t *testing.T) {
	srv := modelServer(t, "Hi", " there")
	cfg := testConfig(t, srv.URL)

	a := openApp(t, cfg)
	c := a.NewChat(Selection{}, false)
	require.NoError(t, a.Send(context.Background(), c.ID, "Hello", TurnOptions{}))

	got, ok := a.Chat(c.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chat.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Hi there", got.Messages[1].Content)
	assert.Equal(t, "default", got.ProviderInstanceID)
	assert.NotEqual(t, streaming.DefaultTitle, got.Title)
	require.NoError(t, a.Close())

	reopened := openApp(t, cfg)
	defer reopened.Close()
	again, ok := reopened.Chat(c.ID)
	require.True(t, ok)
	require.Len(t, again.Messages, 2)
	assert.Equal(t, "Hi there", again.Messages[1].Content)
	assert.Equal(t, got.Title, again.Title)
	assert.Contains(t, reopened.Providers.Get(), "default")
}

func TestApp_TemporaryChatsAreNotSaved(t *testing.T) {
	srv := modelServer(t, "ok")
	cfg := testConfig(t, srv.URL)

	a := openApp(t, cfg)
	c := a.NewChat(Selection{}, true)
	require.NoError(t, a.Send(context.Background(), c.ID, "Hello", TurnOptions{}))
	require.NoError(t, a.Close())

	reopened := openApp(t, cfg)
	defer reopened.Close()
	_, ok := reopened.Chat(c.ID)
	assert.False(t, ok)
}

func TestApp_RegenerateReplacesLastAnswer(t *testing.T) {
	srv := modelServer(t, "again")
	a := openApp(t, testConfig(t, srv.URL))
	defer a.Close()

	c := a.NewChat(Selection{}, false)
	require.NoError(t, a.Send(context.Background(), c.ID, "Hello", TurnOptions{}))
	first, _ := a.Chat(c.ID)

	require.NoError(t, a.Regenerate(context.Background(), c.ID, TurnOptions{}))
	got, _ := a.Chat(c.ID)
	require.Len(t, got.Messages, 2)
	assert.NotEqual(t, first.Messages[1].ID, got.Messages[1].ID)
	assert.Equal(t, "again", got.Messages[1].Content)
}

func TestApp_FindChatByPrefixOrSuffix(t *testing.T) {
	a, err := Open(context.Background(), config.Default(), logging.Discard(), Options{KV: storage.NewMemoryStore()})
	require.NoError(t, err)
	defer a.Close()

	c := a.NewChat(Selection{}, false)
	got, err := a.FindChat(c.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	got, err = a.FindChat(c.ID[len(c.ID)-8:])
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = a.FindChat("zzzzzzzz")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestApp_ResumeWithoutInterruptedStream(t *testing.T) {
	a, err := Open(context.Background(), config.Default(), logging.Discard(), Options{KV: storage.NewMemoryStore()})
	require.NoError(t, err)
	defer a.Close()

	c := a.NewChat(Selection{}, false)
	assert.ErrorIs(t, a.Resume(context.Background(), c.ID, Selection{}), ErrNothingToResume)
	assert.Empty(t, a.Interrupted())
}

func TestApp_ReconfigureAppliesChangedFields(t *testing.T) {
	a, err := Open(context.Background(), config.Default(), logging.Discard(), Options{KV: storage.NewMemoryStore()})
	require.NoError(t, err)
	defer a.Close()

	// A value that arrived by sync survives an unrelated edit
	a.Advanced.Update(func(s chat.AdvancedSettings) chat.AdvancedSettings {
		s.SystemPrompt = "from another device"
		return s
	})
	next := config.Default()
	next.Sync.ServerURL = "https://sync.example.com"
	a.Reconfigure(context.Background(), next)
	assert.Equal(t, "from another device", a.Advanced.Get().SystemPrompt)
	assert.Equal(t, "https://sync.example.com", a.Sync.SyncSettings().ServerURL)

	edited := *next
	edited.General.SystemPrompt = "Answer in French."
	a.Reconfigure(context.Background(), &edited)
	assert.Equal(t, "Answer in French.", a.Advanced.Get().SystemPrompt)
}

func TestApp_OfflineModeAllowsLocalModels(t *testing.T) {
	srv := modelServer(t, "local")
	cfg := testConfig(t, srv.URL)
	cfg.General.Offline = true

	a := openApp(t, cfg)
	defer a.Close()
	require.True(t, a.Offline.Enabled())

	c := a.NewChat(Selection{}, true)
	require.NoError(t, a.Send(context.Background(), c.ID, "Hello", TurnOptions{}))
	got, _ := a.Chat(c.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "local", got.Messages[1].Content)

	err := a.Send(context.Background(), c.ID, "news?", TurnOptions{WebSearch: true})
	assert.ErrorIs(t, err, offline.ErrWebSearchBlocked)

	next := *cfg
	next.General.Offline = false
	a.Reconfigure(context.Background(), &next)
	assert.False(t, a.Offline.Enabled())
}
