// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
)

// =============================================================================
// RECORDS
// =============================================================================

// messageRecord is the persisted form of a message: attachments are stored
// separately and referenced by id.
type messageRecord struct {
	chat.Message
	ThreadID      string   `json:"threadId"`
	AttachmentIDs []string `json:"attachmentIds,omitempty"`
}

type attachmentRecord struct {
	chat.Attachment
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// =============================================================================
// CHAT REPOSITORY
// =============================================================================

// ChatRepository persists chats as a thread record plus one record per
// message and per attachment.
type ChatRepository struct {
	kv     KV
	logger *slog.Logger

	// saves in flight, by chat id; a newer snapshot arriving meanwhile is
	// parked in pending and written when the current save finishes
	mu      sync.Mutex
	saving  map[string]bool
	pending map[string]chat.Chat
}

// NewChatRepository wraps kv.
func NewChatRepository(kv KV, logger *slog.Logger) *ChatRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatRepository{
		kv:      kv,
		logger:  logger.With("component", "chat-repository"),
		saving:  make(map[string]bool),
		pending: make(map[string]chat.Chat),
	}
}

// KV returns the underlying store.
func (r *ChatRepository) KV() KV {
	return r.kv
}

// GetAllThreads returns every thread, most recent activity first.
func (r *ChatRepository) GetAllThreads(ctx context.Context) ([]chat.Thread, error) {
	entries, err := r.kv.List(ctx, NSThreads)
	if err != nil {
		return nil, err
	}
	threads := make([]chat.Thread, 0, len(entries))
	for _, e := range entries {
		var t chat.Thread
		if err := json.Unmarshal(e.Value, &t); err != nil {
			r.logger.Warn("skipping unreadable thread", "thread_id", e.Key, "error", err)
			continue
		}
		threads = append(threads, t)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastMessageDate.After(threads[j].LastMessageDate)
	})
	return threads, nil
}

// GetThread returns one thread.
func (r *ChatRepository) GetThread(ctx context.Context, id string) (chat.Thread, error) {
	var t chat.Thread
	err := GetJSON(ctx, r.kv, NSThreads, id, &t)
	return t, err
}

// GetChatFromThread loads the messages of t. A thread with no messages is
// deleted and reported as (nil, nil).
func (r *ChatRepository) GetChatFromThread(ctx context.Context, t chat.Thread) (*chat.Chat, error) {
	msgs, err := r.GetMessages(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		if err := r.kv.Delete(ctx, NSThreads, t.ID); err != nil {
			r.logger.Warn("failed to delete empty thread", "thread_id", t.ID, "error", err)
		}
		return nil, nil
	}
	c := chat.ChatFromThread(t, msgs)
	return &c, nil
}

// LoadChats loads every persisted chat, pinned and most recent first.
func (r *ChatRepository) LoadChats(ctx context.Context) ([]chat.Chat, error) {
	threads, err := r.GetAllThreads(ctx)
	if err != nil {
		return nil, err
	}
	chats := make([]chat.Chat, 0, len(threads))
	for _, t := range threads {
		c, err := r.GetChatFromThread(ctx, t)
		if err != nil {
			r.logger.Warn("failed to load chat", "thread_id", t.ID, "error", err)
			continue
		}
		if c != nil {
			chats = append(chats, *c)
		}
	}
	chat.SortChats(chats)
	return chats, nil
}

// GetMessages returns the messages of a thread with their attachments,
// oldest first.
func (r *ChatRepository) GetMessages(ctx context.Context, threadID string) ([]chat.Message, error) {
	entries, err := r.kv.ListByParent(ctx, NSMessages, threadID)
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(entries))
	for _, e := range entries {
		var rec messageRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			r.logger.Warn("skipping unreadable message", "message_id", e.Key, "error", err)
			continue
		}
		m := rec.Message
		m.Attachments = r.loadAttachments(ctx, m.ID)
		msgs = append(msgs, m)
	}
	chat.SortMessages(msgs)
	return msgs, nil
}

func (r *ChatRepository) loadAttachments(ctx context.Context, messageID string) []chat.Attachment {
	entries, err := r.kv.ListByParent(ctx, NSAttachments, messageID)
	if err != nil {
		r.logger.Warn("failed to load attachments", "message_id", messageID, "error", err)
		return nil
	}
	var out []chat.Attachment
	for _, e := range entries {
		var rec attachmentRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			continue
		}
		out = append(out, rec.Attachment)
	}
	return out
}

// SaveChat writes the thread, its messages and attachments, and removes
// messages no longer in c. Temporary chats are ignored. Saves of the same
// chat never overlap; the newest snapshot requested during a save is
// written right after it.
func (r *ChatRepository) SaveChat(ctx context.Context, c chat.Chat) error {
	if c.IsTemporary {
		return nil
	}

	r.mu.Lock()
	if r.saving[c.ID] {
		r.pending[c.ID] = c
		r.mu.Unlock()
		return nil
	}
	r.saving[c.ID] = true
	r.mu.Unlock()

	var firstErr error
	for {
		if err := r.saveChat(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}

		r.mu.Lock()
		next, more := r.pending[c.ID]
		delete(r.pending, c.ID)
		if !more {
			delete(r.saving, c.ID)
			r.mu.Unlock()
			return firstErr
		}
		r.mu.Unlock()
		c = next
	}
}

func (r *ChatRepository) saveChat(ctx context.Context, c chat.Chat) error {
	if err := PutJSON(ctx, r.kv, NSThreads, c.ID, "", c.Thread()); err != nil {
		return fmt.Errorf("save thread %s: %w", c.ID, err)
	}

	keep := make(map[string]bool, len(c.Messages))
	for _, m := range c.Messages {
		keep[m.ID] = true
		if err := r.SaveMessage(ctx, c.ID, m); err != nil {
			return err
		}
	}

	existing, err := r.kv.ListByParent(ctx, NSMessages, c.ID)
	if err != nil {
		return fmt.Errorf("list messages %s: %w", c.ID, err)
	}
	for _, e := range existing {
		if !keep[e.Key] {
			if err := r.DeleteMessage(ctx, e.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveMessage writes one message and its attachments under threadID.
func (r *ChatRepository) SaveMessage(ctx context.Context, threadID string, m chat.Message) error {
	rec := messageRecord{Message: m, ThreadID: threadID, AttachmentIDs: m.AttachmentIDs()}
	rec.Message.Attachments = nil
	if err := PutJSON(ctx, r.kv, NSMessages, m.ID, threadID, rec); err != nil {
		return fmt.Errorf("save message %s: %w", m.ID, err)
	}

	keep := make(map[string]bool, len(m.Attachments))
	for _, a := range m.Attachments {
		keep[a.ID] = true
		ar := attachmentRecord{Attachment: a, MessageID: m.ID, ThreadID: threadID}
		if err := PutJSON(ctx, r.kv, NSAttachments, a.ID, m.ID, ar); err != nil {
			return fmt.Errorf("save attachment %s: %w", a.ID, err)
		}
	}
	return r.deleteAttachments(ctx, m.ID, keep)
}

// DeleteMessage removes a message and its attachments.
func (r *ChatRepository) DeleteMessage(ctx context.Context, messageID string) error {
	if err := r.deleteAttachments(ctx, messageID, nil); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, NSMessages, messageID); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

func (r *ChatRepository) deleteAttachments(ctx context.Context, messageID string, keep map[string]bool) error {
	entries, err := r.kv.ListByParent(ctx, NSAttachments, messageID)
	if err != nil {
		return fmt.Errorf("list attachments %s: %w", messageID, err)
	}
	for _, e := range entries {
		if keep[e.Key] {
			continue
		}
		if err := r.kv.Delete(ctx, NSAttachments, e.Key); err != nil {
			return fmt.Errorf("delete attachment %s: %w", e.Key, err)
		}
	}
	return nil
}

// DeleteThread removes a thread with all its messages and attachments.
func (r *ChatRepository) DeleteThread(ctx context.Context, threadID string) error {
	entries, err := r.kv.ListByParent(ctx, NSMessages, threadID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.DeleteMessage(ctx, e.Key); err != nil {
			return err
		}
	}
	if err := r.kv.Delete(ctx, NSThreads, threadID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}
