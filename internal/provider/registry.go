// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/offline"
)

// Options are shared by every model the registry builds.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Offline, when on, limits every backend to loopback endpoints.
	Offline *offline.Mode
}

// Factory builds a model for one instance configuration.
type Factory func(cfg chat.ProviderInstanceConfig, opts Options) (LanguageModel, error)

// Registry maps provider types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      Options
}

// Provider types registered by NewRegistry.
const (
	TypeOpenAI = "openai"
	TypeOllama = "ollama"
)

// NewRegistry returns a registry with the OpenAI-compatible backend
// registered as "openai" and the native Ollama backend as "ollama".
func NewRegistry(opts Options) *Registry {
	r := &Registry{factories: make(map[string]Factory), opts: opts}
	r.Register(TypeOpenAI, func(cfg chat.ProviderInstanceConfig, opts Options) (LanguageModel, error) {
		return NewOpenAICompatible(cfg, opts)
	})
	r.Register(TypeOllama, func(cfg chat.ProviderInstanceConfig, opts Options) (LanguageModel, error) {
		return NewOllama(cfg, opts)
	})
	return r
}

// Register adds or replaces the factory for providerType.
func (r *Registry) Register(providerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = f
}

// Types lists registered provider types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// LanguageModel builds a model of providerType.
func (r *Registry) LanguageModel(providerType string, cfg chat.ProviderInstanceConfig) (LanguageModel, error) {
	r.mu.RLock()
	f, ok := r.factories[providerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("Unsupported provider: %s", providerType)
	}
	return f(cfg, r.opts)
}

// ForInstance builds a model for inst, using model instead of the
// instance default when it is non-empty.
func (r *Registry) ForInstance(inst chat.ProviderInstance, model string) (LanguageModel, error) {
	cfg := inst.Config
	if model != "" {
		cfg.Model = model
	}
	return r.LanguageModel(inst.ProviderType, cfg)
}
