// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/offline"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/streaming"
	"github.com/jeranaias/rigchat/internal/syncer"
)

// Settings keys of the locally persisted copies of the synced settings.
const (
	keyProviders = "providerInstances"
	keyDisabled  = "disabledModels"
	keyAdvanced  = "advancedSettings"
)

// =============================================================================
// APP
// =============================================================================

// App owns every long-lived component.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Offline *offline.Mode

	KV    storage.KV
	Repo  *storage.ChatRepository
	Chats *chat.Store[[]chat.Chat]

	Providers      *chat.Store[chat.ProviderInstances]
	DisabledModels *chat.Store[chat.DisabledModels]
	Advanced       *chat.Store[chat.AdvancedSettings]

	Registry *provider.Registry
	Models   *provider.ModelCache
	States   *streaming.StateStore
	Titles   *streaming.TitleGenerator

	Sync       *syncer.Manager
	Applier    *syncer.Applier
	AutoSync   *syncer.AutoSync
	ThreadSync *syncer.ThreadSync
	Saver      *session.Saver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	controllers map[string]*streaming.Controller
	unsubs      []func()
	foreground  bool
	started     bool
	closed      bool
}

// Options adjust Open, mostly for tests.
type Options struct {
	// KV replaces the sqlite database named in the config.
	KV storage.KV
	// Registry replaces the default provider registry.
	Registry *provider.Registry
	// SaverConfig replaces session.DefaultConfig.
	SaverConfig session.Config
	// Foreground skips automatic sync and the model refresh loop, for
	// one-shot commands.
	Foreground bool
}

// Open loads local state and constructs every component. Nothing runs in
// the background until Start.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	kv := opts.KV
	if kv == nil {
		if cfg.Storage.DBPath == "" {
			return nil, errors.New("no database path configured")
		}
		db, err := storage.OpenSQLite(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		kv = db
	}

	a, err := build(ctx, cfg, logger, kv, opts)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, kv storage.KV, opts Options) (*App, error) {
	repo := storage.NewChatRepository(kv, logger)
	chats, err := repo.LoadChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Offline:     offline.New(cfg.General.Offline),
		KV:          kv,
		Repo:        repo,
		Chats:       chat.NewStore(chats),
		controllers: make(map[string]*streaming.Controller),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.Providers = chat.NewStore(loadSetting(ctx, kv, keyProviders, chat.ProviderInstances{}, logger))
	a.DisabledModels = chat.NewStore(loadSetting(ctx, kv, keyDisabled, chat.DisabledModels{}, logger))
	a.Advanced = chat.NewStore(loadSetting(ctx, kv, keyAdvanced, chat.AdvancedSettings{
		SystemPrompt:           cfg.General.SystemPrompt,
		TitleGenerationEnabled: cfg.General.TitleGenerationEnabled,
		TitleGenerationModel:   cfg.General.TitleGenerationModel,
	}, logger))
	a.seedProvider()

	a.Registry = opts.Registry
	if a.Registry == nil {
		a.Registry = provider.NewRegistry(provider.Options{Logger: logger, Offline: a.Offline})
	}
	a.Models = provider.NewModelCache(kv, cfg.Models.CacheTTL(), logger)
	if err := a.Models.Load(ctx); err != nil {
		logger.Warn("model cache unavailable", "error", err)
	}

	a.States, err = streaming.LoadStateStore(ctx, kv, logger)
	if err != nil {
		return nil, fmt.Errorf("load stream states: %w", err)
	}

	a.Titles = &streaming.TitleGenerator{
		Registry:  a.Registry,
		Instances: a.Providers.Get,
		Settings:  a.Advanced.Get,
		Logger:    logger,
	}

	a.Sync = syncer.NewManager(syncer.Options{
		KV:        kv,
		Repo:      repo,
		Logger:    logger,
		Timings:   syncer.TimingsFromConfig(cfg.Sync),
		ServerURL: cfg.Sync.ServerURL,
		Offline:   a.Offline,
	})
	a.Applier = syncer.NewApplier(a.Sync, a.Chats, repo)
	a.AutoSync = syncer.NewAutoSync(a.Sync, syncer.SettingsStores{
		Providers:      a.Providers,
		DisabledModels: a.DisabledModels,
		Advanced:       a.Advanced,
	})
	a.ThreadSync = syncer.NewThreadSync(a.Sync, a.Chats)
	a.Saver = session.NewSaver(a.Chats, repo, opts.SaverConfig, logger)
	a.foreground = opts.Foreground
	return a, nil
}

// seedProvider creates the bootstrap instance from the config when no
// provider instance exists yet.
func (a *App) seedProvider() {
	if len(a.Providers.Get()) > 0 {
		return
	}
	pc := a.Config.Provider
	if pc.APIKey == "" && pc.BaseURL == "" {
		return
	}
	id := pc.DefaultInstance
	if id == "" {
		id = "default"
	}
	cfg := chat.ProviderInstanceConfig{APIKey: pc.APIKey, BaseURL: pc.BaseURL, Model: pc.DefaultModel}
	cfg.MatchedProvider = provider.DetectKnownProvider(cfg)
	a.Providers.Set(chat.ProviderInstances{id: {
		ID:           id,
		Name:         id,
		ProviderType: "openai",
		Config:       cfg,
	}})
}

// Start persists setting changes locally, begins writing chats behind,
// starts the model refresh loop, and follows the sync session. In the
// foreground mode only the sync state is loaded.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started || a.closed {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	watchSetting(a, keyProviders, a.Providers)
	watchSetting(a, keyDisabled, a.DisabledModels)
	watchSetting(a, keyAdvanced, a.Advanced)

	a.Saver.Start()
	if a.foreground || a.Offline.Enabled() {
		if err := a.Sync.Load(ctx); err != nil {
			return fmt.Errorf("load sync state: %w", err)
		}
		if !a.foreground {
			a.Logger.Info("offline mode: background sync paused")
		}
		return nil
	}

	a.ThreadSync.Start()
	a.AutoSync.Start()
	if err := a.Sync.Start(ctx, a.SyncCallbacks()); err != nil {
		return fmt.Errorf("start sync: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Models.Run(a.ctx, a.Config.Models.RefreshInterval(), a.instanceList, a.Registry)
	}()
	return nil
}

func (a *App) instanceList() []chat.ProviderInstance {
	return a.Providers.Get().List()
}

// watchSetting writes every later value of store to the settings
// namespace under key.
func watchSetting[T any](a *App, key string, store *chat.Store[T]) {
	first := true
	unsub := store.Subscribe(func(v T) {
		// the immediate call carries the value just loaded
		if first {
			first = false
			return
		}
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := storage.PutJSON(ctx, a.KV, storage.NSSettings, key, "", v); err != nil {
			a.Logger.Error("failed to save setting", "key", key, "error", err)
		}
	})
	a.mu.Lock()
	a.unsubs = append(a.unsubs, unsub)
	a.mu.Unlock()
}

func loadSetting[T any](ctx context.Context, kv storage.KV, key string, fallback T, logger *slog.Logger) T {
	var v T
	err := storage.GetJSON(ctx, kv, storage.NSSettings, key, &v)
	switch {
	case err == nil:
		return v
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("ignoring unreadable setting", "key", key, "error", err)
	}
	return fallback
}

// Close stops background work, flushes unsaved chats and closes the
// database.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	unsubs := a.unsubs
	a.unsubs = nil
	controllers := make([]*streaming.Controller, 0, len(a.controllers))
	for _, c := range a.controllers {
		controllers = append(controllers, c)
	}
	a.mu.Unlock()

	for _, c := range controllers {
		c.Cancel()
	}
	a.AutoSync.Close()
	a.ThreadSync.Close()
	a.Sync.Close()
	a.cancel()
	a.wg.Wait()

	err := a.Saver.Close()
	for _, unsub := range unsubs {
		unsub()
	}
	if cerr := a.KV.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
