// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/storage"
)

// Model cache defaults.
const (
	DefaultCacheTTL        = time.Hour
	DefaultRefreshInterval = 30 * time.Minute
)

type cachedModels struct {
	Models    []ModelInfo `json:"models"`
	Timestamp int64       `json:"timestamp"` // unix ms
}

// SyncState reports the most recent background refresh.
type SyncState struct {
	Syncing  bool
	LastSync time.Time
	Errors   map[string]string // by instance id
}

// =============================================================================
// MODEL CACHE
// =============================================================================

// ModelCache stores model listings per provider instance. Entries older
// than the TTL are kept on disk but not served.
type ModelCache struct {
	kv     storage.KV
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedModels
	state   SyncState
}

// NewModelCache returns an empty cache backed by kv. Call Load to read
// persisted entries.
func NewModelCache(kv storage.KV, ttl time.Duration, logger *slog.Logger) *ModelCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelCache{
		kv:      kv,
		ttl:     ttl,
		logger:  logger.With("component", "model-cache"),
		now:     time.Now,
		entries: make(map[string]cachedModels),
		state:   SyncState{Errors: map[string]string{}},
	}
}

// Load reads persisted entries, skipping records that fail to decode.
func (c *ModelCache) Load(ctx context.Context) error {
	records, err := c.kv.List(ctx, storage.NSModelCache)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		var cm cachedModels
		if err := json.Unmarshal(rec.Value, &cm); err != nil {
			c.logger.Warn("skipping corrupt model cache entry", "instance", rec.Key, "error", err)
			continue
		}
		c.entries[rec.Key] = cm
	}
	return nil
}

func (c *ModelCache) fresh(cm cachedModels) bool {
	return c.now().UnixMilli()-cm.Timestamp <= c.ttl.Milliseconds()
}

// Models returns the fresh listing for instanceID.
func (c *ModelCache) Models(instanceID string) ([]ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cm, ok := c.entries[instanceID]
	if !ok || !c.fresh(cm) {
		return nil, false
	}
	return cm.Models, true
}

// All returns every fresh listing keyed by instance id.
func (c *ModelCache) All() map[string][]ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]ModelInfo, len(c.entries))
	for id, cm := range c.entries {
		if c.fresh(cm) {
			out[id] = cm.Models
		}
	}
	return out
}

// Find looks up one model in a fresh listing.
func (c *ModelCache) Find(instanceID, modelID string) (ModelInfo, bool) {
	models, ok := c.Models(instanceID)
	if !ok {
		return ModelInfo{}, false
	}
	for _, m := range models {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Put stores a listing stamped with the current time.
func (c *ModelCache) Put(ctx context.Context, instanceID string, models []ModelInfo) error {
	cm := cachedModels{Models: models, Timestamp: c.now().UnixMilli()}
	c.mu.Lock()
	c.entries[instanceID] = cm
	c.mu.Unlock()
	return storage.PutJSON(ctx, c.kv, storage.NSModelCache, instanceID, "", cm)
}

// ClearInstance drops the listing for instanceID.
func (c *ModelCache) ClearInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	delete(c.entries, instanceID)
	c.mu.Unlock()
	if err := c.kv.Delete(ctx, storage.NSModelCache, instanceID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Clear drops every listing.
func (c *ModelCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.entries = make(map[string]cachedModels)
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.kv.Delete(ctx, storage.NSModelCache, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// State returns a copy of the refresh state.
func (c *ModelCache) State() SyncState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.state
	st.Errors = make(map[string]string, len(c.state.Errors))
	for k, v := range c.state.Errors {
		st.Errors[k] = v
	}
	return st
}

// =============================================================================
// REFRESH
// =============================================================================

// SyncInstance fetches and caches the listing of one instance, with known
// provider overrides applied.
func (c *ModelCache) SyncInstance(ctx context.Context, inst chat.ProviderInstance, reg *Registry) error {
	c.setSyncing(true)
	err := c.syncOne(ctx, inst, reg)

	c.mu.Lock()
	c.state.Syncing = false
	if err != nil {
		c.state.Errors[inst.ID] = err.Error()
	} else {
		c.state.LastSync = c.now()
		delete(c.state.Errors, inst.ID)
	}
	c.mu.Unlock()
	return err
}

// SyncAll refreshes every instance. Failures are recorded per instance.
func (c *ModelCache) SyncAll(ctx context.Context, instances []chat.ProviderInstance, reg *Registry) {
	c.mu.Lock()
	c.state.Syncing = true
	c.state.Errors = map[string]string{}
	c.mu.Unlock()

	errs := map[string]string{}
	for _, inst := range instances {
		if err := c.syncOne(ctx, inst, reg); err != nil {
			c.logger.Warn("model sync failed", "instance", inst.ID, "name", inst.Name, "error", err)
			errs[inst.ID] = err.Error()
		}
	}

	c.mu.Lock()
	c.state.Syncing = false
	c.state.LastSync = c.now()
	c.state.Errors = errs
	c.mu.Unlock()
}

func (c *ModelCache) syncOne(ctx context.Context, inst chat.ProviderInstance, reg *Registry) error {
	lm, err := reg.LanguageModel(inst.ProviderType, inst.Config)
	if err != nil {
		return err
	}
	models, err := lm.AvailableModels(ctx)
	if err != nil {
		return err
	}

	known := inst.Config.MatchedProvider
	if known == "" {
		known = DetectKnownProvider(inst.Config)
	}
	return c.Put(ctx, inst.ID, ApplyModelOverrides(known, models))
}

// Run refreshes immediately and then every interval until ctx is done.
// instances is consulted on every tick so added providers are picked up.
func (c *ModelCache) Run(ctx context.Context, interval time.Duration, instances func() []chat.ProviderInstance, reg *Registry) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	c.SyncAll(ctx, instances(), reg)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SyncAll(ctx, instances(), reg)
		}
	}
}

func (c *ModelCache) setSyncing(v bool) {
	c.mu.Lock()
	c.state.Syncing = v
	c.mu.Unlock()
}
