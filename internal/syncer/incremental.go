// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

// Callbacks receive decrypted remote state. Any of them may be nil, in
// which case that resource is not applied.
type Callbacks struct {
	OnProviders        func(chat.ProviderInstances)
	OnDisabledModels   func(chat.DisabledModels)
	OnAdvancedSettings func(chat.AdvancedSettings)
	OnThreads          func([]chat.Thread)
	OnMessages         func([]MessageUpdate)
}

// MessageUpdate is one remote message change. Message is empty for
// deletes.
type MessageUpdate struct {
	Operation string
	ThreadID  string
	MessageID string
	Message   chat.Message
}

// =============================================================================
// AUTOMATIC SYNC
// =============================================================================

// StartAutomaticSync pulls the settings resources once, then polls
// changes-since on the incremental interval until stopped. It returns
// immediately; a second call while running is a no-op.
func (m *Manager) StartAutomaticSync(ctx context.Context, cb Callbacks) error {
	if m.APIClient() == nil {
		return ErrNotAuthenticated
	}

	m.loopMu.Lock()
	if m.loopStop != nil {
		m.loopMu.Unlock()
		return nil
	}
	loopCtx, stop := context.WithCancel(ctx)
	m.loopStop = stop
	m.loopMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := m.performInitialSync(loopCtx, cb); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("initial sync failed", "error", err)
		}

		ticker := time.NewTicker(m.timings.IncrementalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// RELIABILITY: a failed poll is retried on the next tick
				if err := m.IncrementalSync(loopCtx, cb); err != nil && !errors.Is(err, context.Canceled) {
					m.logger.Error("periodic sync failed", "error", err)
				}
			}
		}
	}()
	return nil
}

// StopAutomaticSync stops the polling loop. It does not wait for an
// in-flight poll.
func (m *Manager) StopAutomaticSync() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopStop != nil {
		m.loopStop()
		m.loopStop = nil
	}
}

// IsPeriodicSyncActive reports whether the polling loop runs.
func (m *Manager) IsPeriodicSyncActive() bool {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	return m.loopStop != nil
}

// LastSyncTimestamp is the server time of the last applied change set in
// unix milliseconds, 0 before the first sync.
func (m *Manager) LastSyncTimestamp() int64 {
	return m.lastSync.Load()
}

// performInitialSync pulls the three settings resources in parallel.
// Conversations arrive through the first changes-since poll.
func (m *Manager) performInitialSync(ctx context.Context, cb Callbacks) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.PullProviderInstances(gctx, cb.OnProviders) })
	g.Go(func() error { return m.PullDisabledModels(gctx, cb.OnDisabledModels) })
	g.Go(func() error { return m.PullAdvancedSettings(gctx, cb.OnAdvancedSettings) })
	if err := g.Wait(); err != nil {
		return err
	}

	m.lastSync.Store(m.now().UnixMilli())
	m.logger.Info("initial sync completed")
	return nil
}

// =============================================================================
// INCREMENTAL SYNC
// =============================================================================

// IncrementalSync fetches and applies everything changed since the last
// sync. Without a session or passphrase hash it does nothing.
func (m *Manager) IncrementalSync(ctx context.Context, cb Callbacks) error {
	env, err := m.settingsEnvelope(false)
	if err != nil {
		return nil
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		resp, err := c.ChangesSince(ctx, m.lastSync.Load())
		if err != nil {
			return err
		}
		if err := resp.Err(msgChangesSince); err != nil {
			return err
		}
		if resp.Data == nil {
			return nil
		}
		m.applyChanges(env, *resp.Data, cb)
		return nil
	})
}

// FullSync forgets the last sync time and fetches everything.
func (m *Manager) FullSync(ctx context.Context, cb Callbacks) error {
	m.lastSync.Store(0)
	return m.IncrementalSync(ctx, cb)
}

func (m *Manager) applyChanges(env envelope, ch syncapi.ChangesSince, cb Callbacks) {
	if ch.SyncTimestamp != "" {
		if t, err := parseTime(ch.SyncTimestamp); err == nil {
			m.lastSync.Store(t.UnixMilli())
		} else {
			m.logger.Warn("invalid sync timestamp", "value", ch.SyncTimestamp, "error", err)
		}
	}

	if ch.ProviderInstances != nil && len(ch.ProviderInstances.Providers) > 0 {
		deliver(m.guard, guardProviders, env.openProviders(ch.ProviderInstances.Providers), cb.OnProviders)
	}
	if ch.DisabledModels != nil && len(ch.DisabledModels.Models) > 0 {
		deliver(m.guard, guardDisabled, env.openDisabled(ch.DisabledModels.Models), cb.OnDisabledModels)
	}
	if ch.AdvancedSettings != nil && len(ch.AdvancedSettings.Settings) > 0 {
		m.deliverAdvanced(env, ch.AdvancedSettings.Settings, cb)
	}

	if len(ch.Threads) > 0 && cb.OnThreads != nil {
		threads := make([]chat.Thread, 0, len(ch.Threads))
		for _, st := range ch.Threads {
			t, err := env.openThread(st)
			if err != nil {
				m.logger.Error("failed to decrypt thread", "thread_id", st.ID, "error", err)
				continue
			}
			threads = append(threads, t)
		}
		if len(threads) > 0 {
			m.logger.Info("applying threads from changes-since", "count", len(threads))
			cb.OnThreads(threads)
		}
	}

	if len(ch.Messages) > 0 && cb.OnMessages != nil {
		updates := make([]MessageUpdate, 0, len(ch.Messages))
		for _, sm := range ch.Messages {
			msg, threadID, err := env.openMessage(sm)
			if err != nil {
				m.logger.Error("failed to decrypt message", "message_id", sm.ID, "error", err)
				continue
			}
			updates = append(updates, MessageUpdate{Operation: syncapi.OpUpdate, ThreadID: threadID, MessageID: msg.ID, Message: msg})
		}
		if len(updates) > 0 {
			cb.OnMessages(updates)
		}
	}

	if len(ch.Operations) > 0 {
		m.processOperations(env, ch.Operations, cb)
	}
}

func (m *Manager) deliverAdvanced(env envelope, enc map[string]string, cb Callbacks) {
	settings, err := env.openAdvanced(enc)
	if err != nil {
		m.logger.Error("failed to decrypt advanced settings", "error", err)
		return
	}
	deliver(m.guard, guardAdvanced, settings, cb.OnAdvancedSettings)
}

func byResource(ops []syncapi.ChangeOperation, resource string) []syncapi.ChangeOperation {
	var out []syncapi.ChangeOperation
	for _, op := range ops {
		if op.Resource == resource {
			out = append(out, op)
		}
	}
	return out
}

func isUpsert(op syncapi.ChangeOperation) bool {
	return len(op.Data) > 0 && (op.Operation == syncapi.OpAdd || op.Operation == syncapi.OpUpdate)
}

// processOperations applies discrete changes grouped by resource: settings
// first, then threads, then messages.
func (m *Manager) processOperations(env envelope, ops []syncapi.ChangeOperation, cb Callbacks) {
	for _, op := range byResource(ops, syncapi.ResourceProviderInstances) {
		var data syncapi.ProviderInstances
		if !isUpsert(op) || !m.decodeOp(op, &data) || data.Providers == nil {
			continue
		}
		deliver(m.guard, guardProviders, env.openProviders(data.Providers), cb.OnProviders)
	}

	for _, op := range byResource(ops, syncapi.ResourceDisabledModels) {
		var data syncapi.DisabledModels
		if !isUpsert(op) || !m.decodeOp(op, &data) || data.Models == nil {
			continue
		}
		deliver(m.guard, guardDisabled, env.openDisabled(data.Models), cb.OnDisabledModels)
	}

	for _, op := range byResource(ops, syncapi.ResourceAdvancedSettings) {
		var data syncapi.AdvancedSettings
		if !isUpsert(op) || !m.decodeOp(op, &data) || data.Settings == nil {
			continue
		}
		m.deliverAdvanced(env, data.Settings, cb)
	}

	if threadOps := byResource(ops, syncapi.ResourceThread); len(threadOps) > 0 && cb.OnThreads != nil {
		var threads []chat.Thread
		for _, op := range threadOps {
			var st syncapi.SyncThread
			if !isUpsert(op) || !m.decodeOp(op, &st) {
				continue
			}
			t, err := env.openThread(st)
			if err != nil {
				m.logger.Error("failed to process thread operation", "thread_id", op.ID, "error", err)
				continue
			}
			threads = append(threads, t)
		}
		if len(threads) > 0 {
			m.logger.Info("updating threads from sync operations", "count", len(threads))
			cb.OnThreads(threads)
		}
	}

	if msgOps := byResource(ops, syncapi.ResourceMessage); len(msgOps) > 0 && cb.OnMessages != nil {
		var updates []MessageUpdate
		for _, op := range msgOps {
			var sm syncapi.SyncMessage
			switch {
			case op.Operation == syncapi.OpDelete:
				threadID := "unknown"
				if len(op.Data) > 0 && m.decodeOp(op, &sm) {
					threadID = env.openThreadID(sm)
				}
				updates = append(updates, MessageUpdate{Operation: syncapi.OpDelete, ThreadID: threadID, MessageID: op.ID})
			case isUpsert(op):
				if !m.decodeOp(op, &sm) {
					continue
				}
				msg, threadID, err := env.openMessage(sm)
				if err != nil {
					m.logger.Error("failed to process message operation", "message_id", op.ID, "error", err)
					continue
				}
				updates = append(updates, MessageUpdate{Operation: op.Operation, ThreadID: threadID, MessageID: msg.ID, Message: msg})
			}
		}
		if len(updates) > 0 {
			cb.OnMessages(updates)
		}
	}
}

func (m *Manager) decodeOp(op syncapi.ChangeOperation, v any) bool {
	if err := json.Unmarshal(op.Data, v); err != nil {
		m.logger.Error("malformed change operation", "resource", op.Resource, "id", op.ID, "error", err)
		return false
	}
	return true
}

// =============================================================================
// CONVERSATION PUSH
// =============================================================================

// PushThread uploads a thread header.
func (m *Manager) PushThread(ctx context.Context, t chat.Thread) error {
	env, err := m.account()
	if err != nil {
		return err
	}
	return m.pushThread(ctx, env, t)
}

// PushMessage uploads one message of threadID.
func (m *Manager) PushMessage(ctx context.Context, threadID string, msg chat.Message) error {
	env, err := m.account()
	if err != nil {
		return err
	}
	return m.pushMessage(ctx, env, threadID, msg)
}

func (m *Manager) pushThread(ctx context.Context, env envelope, t chat.Thread) error {
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		req, err := env.threadRequest(t)
		if err != nil {
			return err
		}
		resp, err := c.UpsertThread(ctx, t.ID, req)
		if err != nil {
			return err
		}
		return resp.Err("Failed to sync thread")
	})
}

func (m *Manager) pushMessage(ctx context.Context, env envelope, threadID string, msg chat.Message) error {
	return m.Do(ctx, func(ctx context.Context, c *syncapi.Client) error {
		req, err := env.messageRequest(msg, threadID)
		if err != nil {
			return err
		}
		resp, err := c.UpsertMessage(ctx, msg.ID, req)
		if err != nil {
			return err
		}
		return resp.Err("Failed to sync message")
	})
}

// initialSync uploads every stored thread and its messages after login.
// PERFORMANCE: each upload is followed by a pause (InitialThreadDelay after
// a thread, InitialMessageDelay after a message) so a large history does
// not flood the server.
func (m *Manager) initialSync(ctx context.Context) error {
	env, err := m.account()
	if err != nil || m.repo == nil {
		return nil
	}

	threads, err := m.repo.GetAllThreads(ctx)
	if err != nil {
		return err
	}

	var pace pacer
	for _, t := range threads {
		if err := pace.wait(ctx); err != nil {
			return err
		}
		if err := m.pushThread(ctx, env, t); err != nil {
			m.logger.Error("error initial syncing thread", "thread_id", t.ID, "error", err)
		}
		pace.after(m.timings.InitialThreadDelay)

		msgs, err := m.repo.GetMessages(ctx, t.ID)
		if err != nil {
			m.logger.Error("error loading messages for initial sync", "thread_id", t.ID, "error", err)
			continue
		}
		for _, msg := range msgs {
			if err := pace.wait(ctx); err != nil {
				return err
			}
			if err := m.pushMessage(ctx, env, t.ID, msg); err != nil {
				m.logger.Error("error initial syncing message", "message_id", msg.ID, "error", err)
			}
			pace.after(m.timings.InitialMessageDelay)
		}
	}
	m.logger.Info("initial upload completed", "threads", len(threads))
	return nil
}

// pacer holds the next request back until the delay chosen by the previous
// one has passed since that request completed.
type pacer struct {
	lim *rate.Limiter
}

// after starts the pause that follows a completed request.
func (p *pacer) after(delay time.Duration) {
	p.lim = rate.NewLimiter(rate.Every(delay), 1)
	p.lim.Allow()
}

func (p *pacer) wait(ctx context.Context) error {
	if p.lim == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}
