// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/offline"
	"github.com/jeranaias/rigchat/internal/security"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

// =============================================================================
// TIMINGS
// =============================================================================

// Timings are the sync intervals and throttles.
type Timings struct {
	IncrementalInterval time.Duration
	AutoSyncDebounce    time.Duration
	ThreadDebounce      time.Duration
	InitialThreadDelay  time.Duration
	InitialMessageDelay time.Duration
	RefreshMargin       time.Duration
	RequestTimeout      time.Duration
}

// DefaultTimings returns the production values.
func DefaultTimings() Timings {
	return Timings{
		IncrementalInterval: 30 * time.Second,
		AutoSyncDebounce:    2 * time.Second,
		ThreadDebounce:      3 * time.Second,
		InitialThreadDelay:  500 * time.Millisecond,
		InitialMessageDelay: 200 * time.Millisecond,
		RefreshMargin:       5 * time.Minute,
		RequestTimeout:      syncapi.DefaultTimeout,
	}
}

// TimingsFromConfig reads cfg, keeping the default for unset values.
func TimingsFromConfig(cfg config.SyncConfig) Timings {
	t := DefaultTimings()
	pick := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&t.IncrementalInterval, cfg.IncrementalInterval())
	pick(&t.AutoSyncDebounce, cfg.AutoSyncDebounce())
	pick(&t.ThreadDebounce, cfg.ThreadDebounce())
	pick(&t.InitialThreadDelay, cfg.InitialThreadDelay())
	pick(&t.InitialMessageDelay, cfg.InitialMessageDelay())
	pick(&t.RefreshMargin, cfg.TokenRefreshMargin())
	pick(&t.RequestTimeout, cfg.RequestTimeout())
	return t
}

// =============================================================================
// MANAGER
// =============================================================================

// Options configure a Manager.
type Options struct {
	KV         storage.KV
	Repo       *storage.ChatRepository
	Box        *security.CryptoBox
	Logger     *slog.Logger
	HTTPClient *http.Client
	Timings    Timings
	Now        func() time.Time

	// ServerURL is used when no sync settings were persisted yet.
	ServerURL string

	// Offline, when on, refuses every request to a remote server.
	Offline *offline.Mode
}

// Manager owns the sync session: persisted settings, tokens, the API
// client, and the periodic changes-since loop.
type Manager struct {
	kv         storage.KV
	repo       *storage.ChatRepository
	box        *security.CryptoBox
	logger     *slog.Logger
	httpClient *http.Client
	timings    Timings
	now        func() time.Time
	guard      *LoopGuard
	offline    *offline.Mode

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	uploads sync.WaitGroup

	mu        sync.RWMutex
	client    *syncapi.Client
	settings  Settings
	machineID string
	loaded    bool
	callbacks Callbacks
	unsubAuth func()

	auth *chat.Store[AuthState]

	refreshMu sync.Mutex

	// incremental sync
	syncMu   sync.Mutex
	lastSync atomic.Int64
	loopMu   sync.Mutex
	loopStop context.CancelFunc
}

// NewManager returns a manager with default, unauthenticated state. Call
// Load or Start to restore the persisted session.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Box == nil {
		opts.Box = security.NewCryptoBox()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if opts.Repo == nil && opts.KV != nil {
		opts.Repo = storage.NewChatRepository(opts.KV, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		kv:         opts.KV,
		repo:       opts.Repo,
		box:        opts.Box,
		logger:     opts.Logger.With("component", "sync"),
		httpClient: opts.HTTPClient,
		timings:    opts.Timings,
		now:        opts.Now,
		guard:      NewLoopGuard(),
		offline:    opts.Offline,
		ctx:        ctx,
		cancel:     cancel,
		settings:   Settings{ServerURL: opts.ServerURL},
		auth:       chat.NewStore(AuthState{}),
	}
}

// Guard returns the loop guard shared with AutoSync and ThreadSync.
func (m *Manager) Guard() *LoopGuard { return m.guard }

// Timings returns the configured intervals.
func (m *Manager) Timings() Timings { return m.timings }

// Logger returns the sync logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

func (m *Manager) newClient(serverURL string) *syncapi.Client {
	return syncapi.New(serverURL).
		WithHTTPClient(m.httpClient).
		WithTimeout(m.timings.RequestTimeout).
		WithLogger(m.logger).
		WithGuard(m.offline.CheckURL)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Load restores persisted settings, the session and the machine id. A
// persisted session gets its client back and a proactive token check;
// failing that check logs out.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if m.loaded {
		m.mu.Unlock()
		return nil
	}
	m.loaded = true
	m.mu.Unlock()

	if m.kv == nil {
		m.mu.Lock()
		m.machineID = chat.NewID()
		m.mu.Unlock()
		return nil
	}

	var settings Settings
	switch err := storage.GetJSON(ctx, m.kv, storage.NSSettings, keySyncSettings, &settings); {
	case err == nil:
		m.mu.Lock()
		m.settings = settings
		m.mu.Unlock()
	case !errors.Is(err, storage.ErrNotFound):
		m.logger.Error("error parsing sync settings", "error", err)
	}

	machineID, err := m.loadMachineID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.machineID = machineID
	m.mu.Unlock()

	var auth AuthState
	if err := storage.GetJSON(ctx, m.kv, storage.NSSettings, keyAuthState, &auth); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Error("error parsing auth state", "error", err)
		}
		return nil
	}
	m.auth.Set(auth)
	m.initializeFromPersistedState(ctx, auth)
	return nil
}

func (m *Manager) initializeFromPersistedState(ctx context.Context, auth AuthState) {
	if !auth.IsAuthenticated || auth.ServerURL == "" {
		return
	}
	client := m.newClient(auth.ServerURL)
	m.setClient(client)
	if auth.Tokens == nil || auth.Tokens.AccessToken == "" {
		return
	}
	client.SetAccessToken(auth.Tokens.AccessToken)

	if err := m.EnsureValidToken(ctx); err != nil {
		m.logger.Warn("failed to refresh token on startup", "error", err)
		m.Logout(ctx)
	}
}

func (m *Manager) loadMachineID(ctx context.Context) (string, error) {
	var id string
	err := storage.GetJSON(ctx, m.kv, storage.NSSettings, keyMachineID, &id)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("machine id unreadable, generating a new one", "error", err)
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate machine id: %w", err)
	}
	id = u.String()
	if err := storage.PutJSON(ctx, m.kv, storage.NSSettings, keyMachineID, "", id); err != nil {
		return "", err
	}
	return id, nil
}

// Start loads persisted state and follows the session: logging in starts
// automatic sync with cb, logging out stops it.
func (m *Manager) Start(ctx context.Context, cb Callbacks) error {
	if err := m.Load(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.unsubAuth != nil {
		m.mu.Unlock()
		return nil
	}
	m.callbacks = cb
	m.mu.Unlock()

	unsub := m.auth.Subscribe(m.handleAuthStateChange)
	m.mu.Lock()
	m.unsubAuth = unsub
	m.mu.Unlock()
	return nil
}

func (m *Manager) handleAuthStateChange(auth AuthState) {
	if !auth.IsAuthenticated {
		m.StopAutomaticSync()
		return
	}
	if m.IsPeriodicSyncActive() {
		return
	}

	m.mu.RLock()
	cb := m.callbacks
	m.mu.RUnlock()
	if err := m.StartAutomaticSync(m.ctx, cb); err != nil {
		m.logger.Error("failed to start automatic sync", "error", err)
	}
}

// Close stops background work and waits for it.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsubAuth
	m.unsubAuth = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.StopAutomaticSync()
	m.cancel()
	m.wg.Wait()
}

// =============================================================================
// STATE ACCESSORS
// =============================================================================

// AuthState returns the current session.
func (m *Manager) AuthState() AuthState { return m.auth.Get() }

// SubscribeAuth calls fn with the current session and every change.
func (m *Manager) SubscribeAuth(fn func(AuthState)) func() { return m.auth.Subscribe(fn) }

// SyncSettings returns the account settings.
func (m *Manager) SyncSettings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// MachineID identifies this device to the server.
func (m *Manager) MachineID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machineID
}

// APIClient returns the current client, nil when there is none.
func (m *Manager) APIClient() *syncapi.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Manager) setClient(c *syncapi.Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

func (m *Manager) persist(ctx context.Context, key string, v any) {
	if m.kv == nil {
		return
	}
	if err := storage.PutJSON(ctx, m.kv, storage.NSSettings, key, "", v); err != nil {
		m.logger.Error("failed to persist sync state", "key", key, "error", err)
	}
}

func (m *Manager) setAuth(ctx context.Context, auth AuthState) {
	m.persist(ctx, keyAuthState, auth)
	m.auth.Set(auth)
}

// UpdateSyncSettings merges the non-empty fields of s into the settings.
// A new server URL gets a new client.
func (m *Manager) UpdateSyncSettings(ctx context.Context, s Settings) {
	m.mu.Lock()
	if s.ServerURL != "" {
		m.settings.ServerURL = s.ServerURL
	}
	if s.UserID != "" {
		m.settings.UserID = s.UserID
	}
	if s.PassphraseHash != "" {
		m.settings.PassphraseHash = s.PassphraseHash
	}
	settings := m.settings
	m.mu.Unlock()

	m.persist(ctx, keySyncSettings, settings)

	if s.ServerURL != "" {
		client := m.newClient(s.ServerURL)
		if auth := m.auth.Get(); auth.IsAuthenticated && auth.ServerURL == s.ServerURL && auth.Tokens != nil {
			client.SetAccessToken(auth.Tokens.AccessToken)
		}
		m.setClient(client)
	}
}

// ClearSyncSettings forgets the account and the session.
func (m *Manager) ClearSyncSettings(ctx context.Context) {
	m.mu.Lock()
	m.settings = Settings{}
	m.mu.Unlock()
	m.Logout(ctx)
	m.box.Forget()

	if m.kv == nil {
		return
	}
	for _, key := range []string{keySyncSettings, keyAuthState} {
		if err := m.kv.Delete(ctx, storage.NSSettings, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("failed to remove sync state", "key", key, "error", err)
		}
	}
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Wallet is a newly created sync account.
type Wallet struct {
	UserID    string
	CreatedAt string
}

// GenerateWallet creates an account on serverURL and stores it in the
// settings. The server's health is checked first.
func (m *Manager) GenerateWallet(ctx context.Context, serverURL, passphrase string) (Wallet, error) {
	client := m.newClient(serverURL)
	if _, err := client.Health(ctx); err != nil {
		return Wallet{}, fmt.Errorf("sync server unreachable: %w", err)
	}

	resp, err := client.GenerateWallet(ctx, syncapi.GenerateWalletRequest{Passphrase: passphrase})
	if err != nil {
		return Wallet{}, err
	}
	if err := resp.DataErr(msgGenerateWallet); err != nil {
		return Wallet{}, err
	}

	m.UpdateSyncSettings(ctx, Settings{
		ServerURL:      serverURL,
		UserID:         resp.Data.UID,
		PassphraseHash: security.HashPassphrase(passphrase),
	})
	return Wallet{UserID: resp.Data.UID, CreatedAt: resp.Data.CreatedAt}, nil
}

// Login authenticates userID and, once the session is set, uploads every
// local thread and message in the background.
func (m *Manager) Login(ctx context.Context, serverURL, userID, passphrase string) error {
	client := m.newClient(serverURL)
	resp, err := client.Login(ctx, syncapi.LoginRequest{UserID: userID, Passphrase: passphrase})
	if err != nil {
		return err
	}
	if err := resp.DataErr(msgLogin); err != nil {
		return err
	}

	tokens := resp.Data.Tokens
	m.UpdateSyncSettings(ctx, Settings{
		ServerURL:      serverURL,
		UserID:         resp.Data.UserID,
		PassphraseHash: security.HashPassphrase(passphrase),
	})

	client.SetAccessToken(tokens.AccessToken)
	m.setClient(client)
	m.setAuth(ctx, AuthState{
		IsAuthenticated: true,
		UserID:          resp.Data.UserID,
		Tokens:          &tokens,
		ServerURL:       serverURL,
	})

	m.wg.Add(1)
	m.uploads.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.uploads.Done()
		if err := m.initialSync(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("initial upload failed", "error", err)
		}
	}()
	return nil
}

// WaitForUploads blocks until the uploads started by Login are done.
func (m *Manager) WaitForUploads() {
	m.uploads.Wait()
}

// Logout drops the session and the client.
func (m *Manager) Logout(ctx context.Context) {
	m.setClient(nil)
	m.setAuth(ctx, AuthState{})
}

// =============================================================================
// TOKENS
// =============================================================================

// RefreshToken exchanges the refresh token for a new pair. Concurrent
// callers share one exchange.
func (m *Manager) RefreshToken(ctx context.Context) error {
	seen := m.auth.Get().Tokens

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	client := m.APIClient()
	if client == nil {
		return ErrNoAPIClient
	}
	auth := m.auth.Get()
	if auth.Tokens == nil || auth.Tokens.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	if seen != nil && auth.Tokens.RefreshToken != seen.RefreshToken {
		// Another caller refreshed while we waited
		client.SetAccessToken(auth.Tokens.AccessToken)
		return nil
	}

	resp, err := client.Refresh(ctx, syncapi.RefreshRequest{RefreshToken: auth.Tokens.RefreshToken})
	if err != nil {
		return err
	}
	if err := resp.DataErr(msgRefresh); err != nil {
		return err
	}

	tokens := *resp.Data
	auth = m.auth.Get()
	auth.Tokens = &tokens
	m.setAuth(ctx, auth)
	client.SetAccessToken(tokens.AccessToken)
	return nil
}

// ForceTokenRefresh refreshes regardless of expiry.
func (m *Manager) ForceTokenRefresh(ctx context.Context) error {
	if err := m.RefreshToken(ctx); err != nil {
		m.logger.Error("failed to refresh token", "error", err)
		return err
	}
	return nil
}

// IsTokenExpired reports whether the session has no usable access token.
// A token without a known expiry counts as valid.
func (m *Manager) IsTokenExpired() bool {
	auth := m.auth.Get()
	if !auth.IsAuthenticated || auth.Tokens == nil {
		return true
	}
	expiry, ok := TokenExpiry(auth.Tokens)
	if !ok {
		return false
	}
	return !expiry.After(m.now())
}

// EnsureValidToken refreshes the access token when it expires within the
// refresh margin. A failed refresh logs out.
func (m *Manager) EnsureValidToken(ctx context.Context) error {
	auth := m.auth.Get()
	if !auth.IsAuthenticated || auth.Tokens == nil {
		return ErrUserNotAuthenticated
	}

	expiry, ok := TokenExpiry(auth.Tokens)
	if !ok || expiry.Sub(m.now()) >= m.timings.RefreshMargin {
		return nil
	}

	if err := m.RefreshToken(ctx); err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		m.Logout(ctx)
		return ErrRefreshFailed
	}
	return nil
}

// Do runs fn with a valid token. When the server rejects the token, fn is
// retried exactly once after a refresh; if that fails too the session is
// dropped and ErrAuthExpired returned.
func (m *Manager) Do(ctx context.Context, fn func(context.Context, *syncapi.Client) error) error {
	err := m.EnsureValidToken(ctx)
	if err == nil {
		client := m.APIClient()
		if client == nil {
			return ErrNoAPIClient
		}
		err = fn(ctx, client)
	}
	if !syncapi.IsUnauthorized(err) {
		return err
	}

	retry := func() error {
		if err := m.RefreshToken(ctx); err != nil {
			return err
		}
		client := m.APIClient()
		if client == nil {
			return ErrNoAPIClient
		}
		return fn(ctx, client)
	}
	if err := retry(); err != nil {
		m.logger.Warn("request failed after token refresh", "error", err)
		m.Logout(ctx)
		return ErrAuthExpired
	}
	return nil
}

// account returns the envelope for the signed-in user.
func (m *Manager) account() (envelope, error) {
	auth := m.auth.Get()
	settings := m.SyncSettings()
	if !auth.IsAuthenticated || auth.UserID == "" {
		return envelope{}, ErrUserNotAuthenticated
	}
	if settings.PassphraseHash == "" {
		return envelope{}, ErrNoPassphraseHash
	}
	return envelope{
		box:       m.box,
		hash:      settings.PassphraseHash,
		userID:    auth.UserID,
		machineID: m.MachineID(),
		now:       m.now,
		logger:    m.logger,
	}, nil
}
