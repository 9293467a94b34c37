// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/syncer"
)

// SyncCallbacks routes incoming sync data into the app's stores.
func (a *App) SyncCallbacks() syncer.Callbacks {
	return a.Applier.Callbacks(a.ctx, syncer.Callbacks{
		OnProviders:        a.Providers.Set,
		OnDisabledModels:   a.DisabledModels.Set,
		OnAdvancedSettings: a.Advanced.Set,
	})
}

// SyncNow runs one incremental sync.
func (a *App) SyncNow(ctx context.Context) error {
	return a.Sync.IncrementalSync(ctx, a.SyncCallbacks())
}

// Pull replaces the local settings with the server's copies and applies
// every conversation change since the beginning.
func (a *App) Pull(ctx context.Context) error {
	cb := a.SyncCallbacks()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Sync.PullProviderInstances(gctx, cb.OnProviders) })
	g.Go(func() error { return a.Sync.PullDisabledModels(gctx, cb.OnDisabledModels) })
	g.Go(func() error { return a.Sync.PullAdvancedSettings(gctx, cb.OnAdvancedSettings) })
	if err := g.Wait(); err != nil {
		return err
	}
	return a.Sync.FullSync(ctx, cb)
}

// PushStats counts what Push uploaded.
type PushStats struct {
	Threads  int
	Messages int
	Failed   int
}

// Push uploads the local settings and every saved conversation.
func (a *App) Push(ctx context.Context) (PushStats, error) {
	var stats PushStats
	if err := a.Sync.PushProviderInstances(ctx, a.Providers.Get()); err != nil {
		return stats, err
	}
	if err := a.Sync.PushDisabledModels(ctx, a.DisabledModels.Get()); err != nil {
		return stats, err
	}
	if err := a.Sync.PushAdvancedSettings(ctx, a.Advanced.Get()); err != nil {
		return stats, err
	}

	for _, c := range a.RecentChats() {
		th := c.Thread()
		th.LastMessageDate = c.LastMessageDate()
		if err := a.Sync.PushThread(ctx, th); err != nil {
			a.Logger.Error("error pushing thread", "thread_id", c.ID, "error", err)
			stats.Failed++
			continue
		}
		stats.Threads++
		for _, m := range c.Messages {
			if err := a.Sync.PushMessage(ctx, c.ID, m); err != nil {
				a.Logger.Error("error pushing message", "message_id", m.ID, "error", err)
				stats.Failed++
				continue
			}
			stats.Messages++
		}
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d items failed to sync", stats.Failed)
	}
	return stats, nil
}
