// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/syncer"
)

// Reconfigure applies a reloaded config file. Only fields that changed
// relative to the previous file take effect, so settings that arrived by
// sync are not overwritten by an unrelated edit.
func (a *App) Reconfigure(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.Config
	a.Config = cfg
	a.mu.Unlock()

	if on := cfg.General.Offline; on != prev.General.Offline {
		a.Offline.Set(on)
		a.Logger.Info("offline mode changed", "offline", on)
	}

	if g := cfg.General; g.SystemPrompt != prev.General.SystemPrompt ||
		g.TitleGenerationEnabled != prev.General.TitleGenerationEnabled ||
		g.TitleGenerationModel != prev.General.TitleGenerationModel {
		a.Advanced.Update(func(s chat.AdvancedSettings) chat.AdvancedSettings {
			if g.SystemPrompt != prev.General.SystemPrompt {
				s.SystemPrompt = g.SystemPrompt
			}
			if g.TitleGenerationEnabled != prev.General.TitleGenerationEnabled {
				s.TitleGenerationEnabled = g.TitleGenerationEnabled
			}
			if g.TitleGenerationModel != prev.General.TitleGenerationModel {
				s.TitleGenerationModel = g.TitleGenerationModel
			}
			return s
		})
		a.Logger.Info("general settings reloaded")
	}

	if url := cfg.Sync.ServerURL; url != prev.Sync.ServerURL && url != "" {
		if a.Sync.AuthState().IsAuthenticated {
			a.Logger.Warn("sync server changed; log in again to use it", "server_url", url)
			return
		}
		a.Sync.UpdateSyncSettings(ctx, syncer.Settings{ServerURL: url})
		a.Logger.Info("sync server changed", "server_url", url)
	}
}
