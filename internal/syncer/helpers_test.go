// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/security"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

const (
	testPassphrase = "correct horse battery staple"
	testUserID     = "user-1"
)

// =============================================================================
// FAKE SYNC SERVER
// =============================================================================

type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	issued       int
	accessToken  string
	refreshToken string
	expiresIn    time.Duration
	refreshes    int
	failRefresh  bool
	unauthorized int

	providers *syncapi.SyncRequest[syncapi.ProviderInstances]
	disabled  *syncapi.SyncRequest[syncapi.DisabledModels]
	advanced  *syncapi.SyncRequest[syncapi.AdvancedSettings]
	pushes    map[string]int
	threads   map[string]syncapi.SyncRequest[syncapi.SyncThread]
	messages  map[string]syncapi.SyncRequest[syncapi.SyncMessage]
	changes   syncapi.ChangesSince
	since     []string
	uploads   []upload
}

// upload is one thread or message push in arrival order.
type upload struct {
	kind string // "thread" or "message"
	id   string
	at   time.Time
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		t:         t,
		expiresIn: time.Hour,
		pushes:    make(map[string]int),
		threads:   make(map[string]syncapi.SyncRequest[syncapi.SyncThread]),
		messages:  make(map[string]syncapi.SyncRequest[syncapi.SyncMessage]),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string { return fs.srv.URL }

func (fs *fakeServer) ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

// issueLocked must be called with fs.mu held.
func (fs *fakeServer) issueLocked() syncapi.AuthTokens {
	fs.issued++
	fs.accessToken = fmt.Sprintf("at-%d", fs.issued)
	fs.refreshToken = fmt.Sprintf("rt-%d", fs.issued)
	return syncapi.AuthTokens{
		AccessToken:  fs.accessToken,
		RefreshToken: fs.refreshToken,
		ExpiresAt:    time.Now().Add(fs.expiresIn).UTC().Format(time.RFC3339),
	}
}

func decode[T any](t *testing.T, r *http.Request) T {
	var v T
	require.NoError(t, json.NewDecoder(r.Body).Decode(&v))
	return v
}

func (fs *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := r.URL.Path
	switch path {
	case "/health":
		fs.ok(w, syncapi.Health{Status: "ok"})
		return
	case "/api/v1/auth/generate-wallet":
		fs.ok(w, syncapi.GenerateWalletResponse{UID: testUserID, CreatedAt: "2025-01-01T00:00:00Z"})
		return
	case "/api/v1/auth/login":
		req := decode[syncapi.LoginRequest](fs.t, r)
		fs.ok(w, syncapi.LoginResponse{Tokens: fs.issueLocked(), UserID: req.UserID})
		return
	case "/api/v1/auth/refresh":
		req := decode[syncapi.RefreshRequest](fs.t, r)
		fs.refreshes++
		if fs.failRefresh || req.RefreshToken != fs.refreshToken {
			http.Error(w, "invalid refresh token", http.StatusUnauthorized)
			return
		}
		fs.ok(w, fs.issueLocked())
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+fs.accessToken || fs.unauthorized > 0 {
		if fs.unauthorized > 0 {
			fs.unauthorized--
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case path == "/api/v1/sync/provider-instances":
		if r.Method == http.MethodPut {
			req := decode[syncapi.SyncRequest[syncapi.ProviderInstances]](fs.t, r)
			fs.providers = &req
			fs.pushes[guardProviders]++
			fs.ok(w, req.Data)
			return
		}
		if fs.providers == nil {
			fs.ok(w, syncapi.ProviderInstances{})
			return
		}
		fs.ok(w, fs.providers.Data)
	case path == "/api/v1/sync/disabled-models":
		if r.Method == http.MethodPut {
			req := decode[syncapi.SyncRequest[syncapi.DisabledModels]](fs.t, r)
			fs.disabled = &req
			fs.pushes[guardDisabled]++
			fs.ok(w, req.Data)
			return
		}
		if fs.disabled == nil {
			fs.ok(w, syncapi.DisabledModels{})
			return
		}
		fs.ok(w, fs.disabled.Data)
	case path == "/api/v1/sync/advanced-settings":
		if r.Method == http.MethodPut {
			req := decode[syncapi.SyncRequest[syncapi.AdvancedSettings]](fs.t, r)
			fs.advanced = &req
			fs.pushes[guardAdvanced]++
			fs.ok(w, req.Data)
			return
		}
		if fs.advanced == nil {
			fs.ok(w, syncapi.AdvancedSettings{})
			return
		}
		fs.ok(w, fs.advanced.Data)
	case strings.HasPrefix(path, "/api/v1/sync/changes-since/"):
		fs.since = append(fs.since, strings.TrimPrefix(path, "/api/v1/sync/changes-since/"))
		fs.ok(w, fs.changes)
	case strings.HasPrefix(path, "/api/v1/sync/threads/"):
		req := decode[syncapi.SyncRequest[syncapi.SyncThread]](fs.t, r)
		id := strings.TrimPrefix(path, "/api/v1/sync/threads/")
		fs.threads[id] = req
		fs.uploads = append(fs.uploads, upload{kind: "thread", id: id, at: time.Now()})
		fs.ok(w, req.Data)
	case strings.HasPrefix(path, "/api/v1/sync/messages/"):
		req := decode[syncapi.SyncRequest[syncapi.SyncMessage]](fs.t, r)
		id := strings.TrimPrefix(path, "/api/v1/sync/messages/")
		fs.messages[id] = req
		fs.uploads = append(fs.uploads, upload{kind: "message", id: id, at: time.Now()})
		fs.ok(w, req.Data)
	default:
		http.NotFound(w, r)
	}
}

func (fs *fakeServer) set(fn func(fs *fakeServer)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn(fs)
}

func (fs *fakeServer) pushCount(key string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.pushes[key]
}

func (fs *fakeServer) messageCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.messages)
}

func (fs *fakeServer) threadCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.threads)
}

func (fs *fakeServer) uploadLog() []upload {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]upload(nil), fs.uploads...)
}

func (fs *fakeServer) refreshCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.refreshes
}

// =============================================================================
// MANAGER HELPERS
// =============================================================================

func testTimings() Timings {
	return Timings{
		IncrementalInterval: time.Hour,
		AutoSyncDebounce:    30 * time.Millisecond,
		ThreadDebounce:      30 * time.Millisecond,
		RefreshMargin:       5 * time.Minute,
		RequestTimeout:      5 * time.Second,
	}
}

func newTestManager(t *testing.T, kv storage.KV) *Manager {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemoryStore()
	}
	m := NewManager(Options{
		KV:      kv,
		Logger:  logging.Discard(),
		Timings: testTimings(),
	})
	require.NoError(t, m.Load(context.Background()))
	t.Cleanup(m.Close)
	return m
}

// login signs in and waits for the initial upload to finish.
func login(t *testing.T, m *Manager, fs *fakeServer) {
	t.Helper()
	require.NoError(t, m.Login(context.Background(), fs.URL(), testUserID, testPassphrase))
	m.wg.Wait()
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testEnvelope() envelope {
	return envelope{
		box:       security.NewCryptoBox(),
		hash:      security.HashPassphrase(testPassphrase),
		userID:    testUserID,
		machineID: "machine-1",
		now:       func() time.Time { return fixedNow },
		logger:    logging.Discard(),
	}
}
