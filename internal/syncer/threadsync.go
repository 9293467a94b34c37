// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
)

func messageGuardKey(id string) string { return "message:" + id }

// ThreadSync pushes conversation edits. Thread headers are pushed when
// asked for; messages are pushed when a diff of the chat list shows them
// added or modified. Both are batched behind a debounce so a streaming
// answer becomes one write.
type ThreadSync struct {
	m     *Manager
	chats *chat.Store[[]chat.Chat]

	mu             sync.Mutex
	previous       []chat.Chat
	pendingThreads map[string]chat.Chat
	pendingMsgs    map[string]MessageChange
	unsub          func()

	threadDebounce *debouncer
	msgDebounce    *debouncer
}

// NewThreadSync watches chats on behalf of m.
func NewThreadSync(m *Manager, chats *chat.Store[[]chat.Chat]) *ThreadSync {
	t := &ThreadSync{
		m:              m,
		chats:          chats,
		pendingThreads: make(map[string]chat.Chat),
		pendingMsgs:    make(map[string]MessageChange),
	}
	t.threadDebounce = newDebouncer(m.timings.ThreadDebounce, t.flushThreads)
	t.msgDebounce = newDebouncer(m.timings.ThreadDebounce, t.flushMessages)
	return t
}

// Start begins diffing the chat list. The current list is the baseline.
func (t *ThreadSync) Start() {
	t.mu.Lock()
	if t.unsub != nil {
		t.mu.Unlock()
		return
	}
	t.previous = t.chats.Get()
	t.mu.Unlock()

	unsub := t.chats.Subscribe(t.onChats)
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()
}

// Close stops watching and drops pending pushes.
func (t *ThreadSync) Close() {
	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	t.pendingThreads = make(map[string]chat.Chat)
	t.pendingMsgs = make(map[string]MessageChange)
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	t.threadDebounce.Stop()
	t.msgDebounce.Stop()
}

func (t *ThreadSync) onChats(current []chat.Chat) {
	t.mu.Lock()
	if len(current) == 0 {
		t.previous = nil
		t.mu.Unlock()
		return
	}
	if !t.m.AuthState().IsAuthenticated {
		t.previous = current
		t.mu.Unlock()
		return
	}

	changes := DetectMessageChanges(t.previous, current)
	t.previous = current

	queued := false
	for _, ch := range changes {
		// Messages just applied from the server are not echoed back
		if ch.Type != ChangeDeleted && t.m.guard.Consume(messageGuardKey(ch.Message.ID), ch.Message) {
			continue
		}
		t.pendingMsgs[ch.Message.ID] = ch
		queued = true
	}
	t.mu.Unlock()

	if queued {
		t.msgDebounce.Trigger()
	}
}

// SyncThread schedules a push of c's header.
func (t *ThreadSync) SyncThread(c chat.Chat) {
	t.SyncThreads([]chat.Chat{c})
}

// SyncThreads schedules a push of the headers of chats. Temporary chats
// are skipped; nothing is scheduled without a session.
func (t *ThreadSync) SyncThreads(chats []chat.Chat) {
	if !t.m.AuthState().IsAuthenticated {
		t.m.logger.Debug("thread sync skipped, not authenticated")
		return
	}

	t.mu.Lock()
	queued := false
	for _, c := range chats {
		if c.IsTemporary {
			continue
		}
		t.pendingThreads[c.ID] = c
		queued = true
	}
	t.mu.Unlock()

	if queued {
		t.threadDebounce.Trigger()
	}
}

func (t *ThreadSync) flushThreads() {
	t.mu.Lock()
	pending := make([]chat.Chat, 0, len(t.pendingThreads))
	for _, c := range t.pendingThreads {
		pending = append(pending, c)
	}
	t.pendingThreads = make(map[string]chat.Chat)
	t.mu.Unlock()

	if len(pending) == 0 || !t.m.AuthState().IsAuthenticated {
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	if err := t.ProcessThreadChanges(t.m.ctx, pending); err != nil {
		t.m.logger.Error("thread sync failed", "error", err)
	}
}

// ProcessThreadChanges pushes the headers of chats now. One failed push
// does not stop the others.
func (t *ThreadSync) ProcessThreadChanges(ctx context.Context, chats []chat.Chat) error {
	auth := t.m.AuthState()
	if !auth.IsAuthenticated || auth.UserID == "" {
		return ErrUserNotAuthenticated
	}
	if t.m.APIClient() == nil {
		return ErrClientUnavailable
	}
	env, err := t.m.account()
	if err != nil {
		return err
	}

	for _, c := range chats {
		th := c.Thread()
		th.LastMessageDate = c.LastMessageDate()
		if err := t.m.pushThread(ctx, env, th); err != nil {
			t.m.logger.Error("error syncing thread", "thread_id", c.ID, "error", err)
			continue
		}
		t.m.logger.Debug("synced thread", "thread_id", c.ID)
	}
	return nil
}

func (t *ThreadSync) flushMessages() {
	t.mu.Lock()
	pending := make([]MessageChange, 0, len(t.pendingMsgs))
	for _, ch := range t.pendingMsgs {
		pending = append(pending, ch)
	}
	t.pendingMsgs = make(map[string]MessageChange)
	t.mu.Unlock()

	if len(pending) == 0 || t.m.APIClient() == nil {
		return
	}
	env, err := t.m.account()
	if err != nil {
		return
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i].Message, pending[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, ch := range pending {
		// The server has no message delete endpoint
		if ch.Type == ChangeDeleted {
			continue
		}
		if err := t.m.pushMessage(t.m.ctx, env, ch.ThreadID, ch.Message); err != nil {
			t.m.logger.Error("error syncing message", "change", ch.Type, "message_id", ch.Message.ID, "error", err)
			continue
		}
		t.m.logger.Debug("synced message", "change", ch.Type, "message_id", ch.Message.ID)
	}
}
