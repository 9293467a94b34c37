// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

// Loop guard keys for the settings resources.
const (
	guardProviders = syncapi.ResourceProviderInstances
	guardDisabled  = syncapi.ResourceDisabledModels
	guardAdvanced  = syncapi.ResourceAdvancedSettings
)

// deliver records v as expected under key, then hands it to fn.
func deliver[T any](g *LoopGuard, key string, v T, fn func(T)) {
	if fn == nil {
		return
	}
	g.Record(key, v)
	fn(v)
}

// settingsEnvelope is the envelope for the account in the sync settings.
// requireUser is set for pushes, which are stamped with the user id.
func (m *Manager) settingsEnvelope(requireUser bool) (envelope, error) {
	if m.APIClient() == nil {
		return envelope{}, ErrNotAuthenticated
	}
	settings := m.SyncSettings()
	if requireUser && settings.UserID == "" {
		return envelope{}, ErrNoUserID
	}
	if settings.PassphraseHash == "" {
		return envelope{}, ErrNoPassphraseHash
	}
	return envelope{
		box:       m.box,
		hash:      settings.PassphraseHash,
		userID:    settings.UserID,
		machineID: m.MachineID(),
		now:       m.now,
		logger:    m.logger,
	}, nil
}

// =============================================================================
// PULL
// =============================================================================

// The server is authoritative for settings: a pull hands the remote value
// to onUpdate without pushing anything back. An empty remote is not
// delivered so a fresh account never wipes local configuration.

// PullProviderInstances fetches the provider instances.
func (m *Manager) PullProviderInstances(ctx context.Context, onUpdate func(chat.ProviderInstances)) error {
	env, err := m.settingsEnvelope(false)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		resp, err := c.GetProviderInstances(ctx)
		if err != nil {
			return err
		}
		if err := resp.Err(msgGetProviders); err != nil {
			return err
		}
		if resp.Data == nil || len(resp.Data.Providers) == 0 {
			m.logger.Debug("no remote provider instances")
			return nil
		}
		deliver(m.guard, guardProviders, env.openProviders(resp.Data.Providers), onUpdate)
		return nil
	})
}

// PullDisabledModels fetches the disabled model lists.
func (m *Manager) PullDisabledModels(ctx context.Context, onUpdate func(chat.DisabledModels)) error {
	env, err := m.settingsEnvelope(false)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		resp, err := c.GetDisabledModels(ctx)
		if err != nil {
			return err
		}
		if err := resp.Err(msgGetDisabled); err != nil {
			return err
		}
		if resp.Data == nil || len(resp.Data.Models) == 0 {
			m.logger.Debug("no remote disabled models")
			return nil
		}
		deliver(m.guard, guardDisabled, env.openDisabled(resp.Data.Models), onUpdate)
		return nil
	})
}

// PullAdvancedSettings fetches the advanced settings.
func (m *Manager) PullAdvancedSettings(ctx context.Context, onUpdate func(chat.AdvancedSettings)) error {
	env, err := m.settingsEnvelope(false)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		resp, err := c.GetAdvancedSettings(ctx)
		if err != nil {
			return err
		}
		if err := resp.Err(msgGetAdvanced); err != nil {
			return err
		}
		if resp.Data == nil || len(resp.Data.Settings) == 0 {
			m.logger.Debug("no remote advanced settings")
			return nil
		}
		settings, err := env.openAdvanced(resp.Data.Settings)
		if err != nil {
			return err
		}
		deliver(m.guard, guardAdvanced, settings, onUpdate)
		return nil
	})
}

// =============================================================================
// PUSH
// =============================================================================

// PushProviderInstances uploads the provider instances, one encrypted
// value per instance.
func (m *Manager) PushProviderInstances(ctx context.Context, p chat.ProviderInstances) error {
	env, err := m.settingsEnvelope(true)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		enc, err := env.sealProviders(p)
		if err != nil {
			return err
		}
		now := formatTime(m.now())
		resp, err := c.UpdateProviderInstances(ctx, syncapi.SyncRequest[syncapi.ProviderInstances]{
			MachineID: env.machineID,
			UserID:    env.userID,
			Data:      syncapi.ProviderInstances{Providers: enc, UpdatedAt: now, CreatedAt: now},
			Version:   1,
		})
		if err != nil {
			return err
		}
		return resp.Err(msgUpdateProviders)
	})
}

// PushDisabledModels uploads the disabled models, one encrypted JSON array
// per provider instance.
func (m *Manager) PushDisabledModels(ctx context.Context, d chat.DisabledModels) error {
	env, err := m.settingsEnvelope(true)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		enc, err := env.sealDisabled(d)
		if err != nil {
			return err
		}
		now := formatTime(m.now())
		resp, err := c.UpdateDisabledModels(ctx, syncapi.SyncRequest[syncapi.DisabledModels]{
			MachineID: env.machineID,
			UserID:    env.userID,
			Data:      syncapi.DisabledModels{Models: enc, UpdatedAt: now, CreatedAt: now},
			Version:   1,
		})
		if err != nil {
			return err
		}
		return resp.Err(msgUpdateDisabled)
	})
}

// PushAdvancedSettings uploads the advanced settings, one encrypted JSON
// value per key.
func (m *Manager) PushAdvancedSettings(ctx context.Context, a chat.AdvancedSettings) error {
	env, err := m.settingsEnvelope(true)
	if err != nil {
		return err
	}
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		enc, err := env.sealAdvanced(a)
		if err != nil {
			return err
		}
		now := formatTime(m.now())
		resp, err := c.UpdateAdvancedSettings(ctx, syncapi.SyncRequest[syncapi.AdvancedSettings]{
			MachineID: env.machineID,
			UserID:    env.userID,
			Data:      syncapi.AdvancedSettings{Settings: enc, UpdatedAt: now, CreatedAt: now},
			Version:   1,
		})
		if err != nil {
			return err
		}
		return resp.Err(msgUpdateAdvanced)
	})
}
