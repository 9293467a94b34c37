// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
)

// SettingsStores are the local settings AutoSync watches. A nil store is
// not watched.
type SettingsStores struct {
	Providers      *chat.Store[chat.ProviderInstances]
	DisabledModels *chat.Store[chat.DisabledModels]
	Advanced       *chat.Store[chat.AdvancedSettings]
}

// AutoSync pushes local settings edits. Values that match what the last
// sync applied are not pushed; edits are pushed once the stores have been
// quiet for the debounce window.
type AutoSync struct {
	m      *Manager
	stores SettingsStores

	mu        sync.Mutex
	enabled   bool
	unsubs    []func()
	unsubAuth func()
	pending   map[string]bool
	debounce  *debouncer
}

// NewAutoSync watches stores on behalf of m.
func NewAutoSync(m *Manager, stores SettingsStores) *AutoSync {
	a := &AutoSync{
		m:       m,
		stores:  stores,
		pending: make(map[string]bool),
	}
	a.debounce = newDebouncer(m.timings.AutoSyncDebounce, a.flush)
	return a
}

// Start follows the session: logging in enables auto-sync, logging out
// disables it.
func (a *AutoSync) Start() {
	unsub := a.m.SubscribeAuth(func(auth AuthState) {
		switch {
		case auth.IsAuthenticated && !a.Enabled():
			a.Enable()
		case !auth.IsAuthenticated && a.Enabled():
			a.Disable()
		}
	})
	a.mu.Lock()
	a.unsubAuth = unsub
	a.mu.Unlock()
}

// Close disables auto-sync and stops following the session.
func (a *AutoSync) Close() {
	a.mu.Lock()
	unsub := a.unsubAuth
	a.unsubAuth = nil
	a.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	a.Disable()
}

// Enabled reports whether the stores are watched.
func (a *AutoSync) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func watch[T any](a *AutoSync, key string, s *chat.Store[T]) func() {
	if s == nil {
		return nil
	}
	a.m.guard.Record(key, s.Get())
	return s.Subscribe(func(v T) {
		if a.m.guard.Observe(key, v) {
			a.mark(key)
		}
	})
}

// Enable starts watching. The current values count as already synced.
func (a *AutoSync) Enable() {
	a.mu.Lock()
	if a.enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = true
	a.mu.Unlock()

	var unsubs []func()
	for _, u := range []func(){
		watch(a, guardProviders, a.stores.Providers),
		watch(a, guardDisabled, a.stores.DisabledModels),
		watch(a, guardAdvanced, a.stores.Advanced),
	} {
		if u != nil {
			unsubs = append(unsubs, u)
		}
	}

	a.mu.Lock()
	a.unsubs = unsubs
	a.mu.Unlock()
}

// Disable stops watching and drops pending pushes.
func (a *AutoSync) Disable() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	a.enabled = false
	a.pending = make(map[string]bool)
	a.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	a.debounce.Stop()
	for _, key := range []string{guardProviders, guardDisabled, guardAdvanced} {
		a.m.guard.Forget(key)
	}
}

func (a *AutoSync) mark(key string) {
	a.mu.Lock()
	a.pending[key] = true
	a.mu.Unlock()
	a.debounce.Trigger()
}

// flush pushes the current value of every resource edited in the window.
func (a *AutoSync) flush() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string]bool)
	a.mu.Unlock()

	if len(pending) == 0 || !a.m.AuthState().IsAuthenticated {
		return
	}

	ctx := a.m.ctx
	push := func(key string, fn func() error) {
		if !pending[key] {
			return
		}
		if err := fn(); err != nil {
			a.m.logger.Error("auto-sync failed", "resource", key, "error", err)
		}
	}
	push(guardProviders, func() error { return a.m.PushProviderInstances(ctx, a.stores.Providers.Get()) })
	push(guardDisabled, func() error { return a.m.PushDisabledModels(ctx, a.stores.DisabledModels.Get()) })
	push(guardAdvanced, func() error { return a.m.PushAdvancedSettings(ctx, a.stores.Advanced.Get()) })
}
