// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

// Applier writes remote conversation changes into the chat list and the
// repository. Applying the same change twice leaves the same state.
type Applier struct {
	chats  *chat.Store[[]chat.Chat]
	repo   *storage.ChatRepository
	guard  *LoopGuard
	logger *slog.Logger
	now    func() time.Time
}

// NewApplier applies changes for m into chats and repo.
func NewApplier(m *Manager, chats *chat.Store[[]chat.Chat], repo *storage.ChatRepository) *Applier {
	return &Applier{
		chats:  chats,
		repo:   repo,
		guard:  m.guard,
		logger: m.logger.With("component", "sync-apply"),
		now:    m.now,
	}
}

// Callbacks returns base with the conversation callbacks filled in.
func (a *Applier) Callbacks(ctx context.Context, base Callbacks) Callbacks {
	base.OnThreads = func(threads []chat.Thread) { a.ApplyThreads(ctx, threads) }
	base.OnMessages = func(updates []MessageUpdate) { a.ApplyMessages(ctx, updates) }
	return base
}

func mergeThread(c chat.Chat, t chat.Thread) chat.Chat {
	c.Title = t.Title
	c.Pinned = t.Pinned
	c.ProviderInstanceID = t.ProviderInstanceID
	c.Model = t.Model
	c.BranchedFrom = t.BranchedFrom
	c.WebSearchEnabled = t.WebSearchEnabled
	c.WebSearchContextSize = t.WebSearchContextSize
	c.CreatedAt = t.CreatedAt
	// UpdatedAt only moves forward
	if t.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = t.UpdatedAt
	}
	return c
}

// ApplyThreads merges thread headers into their chats, creating chats that
// do not exist yet, and saves them.
func (a *Applier) ApplyThreads(ctx context.Context, threads []chat.Thread) {
	for _, t := range threads {
		var merged chat.Chat
		inMemory := false
		a.chats.Update(func(all []chat.Chat) []chat.Chat {
			c, ok := chat.FindChat(all, t.ID)
			if !ok {
				return all
			}
			inMemory = true
			merged = mergeThread(c, t)
			return chat.ReplaceChat(all, merged)
		})

		if !inMemory {
			// Keep whatever messages are already stored for the thread
			msgs, err := a.repo.GetMessages(ctx, t.ID)
			if err != nil {
				a.logger.Warn("failed to load messages for synced thread", "thread_id", t.ID, "error", err)
				msgs = nil
			}
			for _, m := range msgs {
				a.guard.Record(messageGuardKey(m.ID), m)
			}
			merged = chat.ChatFromThread(t, msgs)

			added := false
			a.chats.Update(func(all []chat.Chat) []chat.Chat {
				if _, ok := chat.FindChat(all, t.ID); ok {
					return all
				}
				added = true
				return chat.ReplaceChat(all, merged)
			})
			if !added {
				continue
			}
		}

		if err := a.repo.SaveChat(ctx, merged); err != nil {
			a.logger.Error("failed to save synced thread", "thread_id", t.ID, "error", err)
		}
	}
}

// keepLocalAttachments swaps synced placeholders for the local attachment
// with the same id, which still has its data.
func keepLocalAttachments(local, remote []chat.Attachment) []chat.Attachment {
	if len(remote) == 0 {
		return remote
	}
	byID := make(map[string]chat.Attachment, len(local))
	for _, att := range local {
		byID[att.ID] = att
	}
	out := make([]chat.Attachment, len(remote))
	for i, att := range remote {
		if l, ok := byID[att.ID]; ok {
			att = l
		}
		out[i] = att
	}
	return out
}

// owner finds the chat holding messageID, preferring threadID.
func owner(all []chat.Chat, threadID, messageID string) (chat.Chat, bool) {
	if c, ok := chat.FindChat(all, threadID); ok {
		return c, true
	}
	for _, c := range all {
		if _, ok := c.FindMessage(messageID); ok {
			return c, true
		}
	}
	return chat.Chat{}, false
}

// ApplyMessages upserts or deletes messages inside their chats and
// persists them. Messages of unknown chats are skipped.
func (a *Applier) ApplyMessages(ctx context.Context, updates []MessageUpdate) {
	for _, u := range updates {
		var (
			threadID string
			msg      chat.Message
			changed  bool
		)
		deleting := u.Operation == syncapi.OpDelete

		a.chats.Update(func(all []chat.Chat) []chat.Chat {
			c, ok := owner(all, u.ThreadID, u.MessageID)
			if !ok {
				return all
			}
			threadID = c.ID
			old, exists := c.FindMessage(u.MessageID)

			if deleting {
				if !exists {
					return all
				}
				c = c.WithoutMessage(u.MessageID)
				c.UpdatedAt = a.now()
			} else {
				msg = u.Message
				msg.Attachments = keepLocalAttachments(old.Attachments, msg.Attachments)
				if exists && bytes.Equal(serialize(old), serialize(msg)) {
					return all
				}
				a.guard.Record(messageGuardKey(msg.ID), msg)
				c = c.UpsertMessage(msg)
				chat.SortMessages(c.Messages)
				if msg.UpdatedAt.After(c.UpdatedAt) {
					c.UpdatedAt = msg.UpdatedAt
				}
			}
			changed = true
			return chat.ReplaceChat(all, c)
		})

		if threadID == "" {
			a.logger.Debug("skipping message for unknown thread", "thread_id", u.ThreadID, "message_id", u.MessageID)
			continue
		}
		if !changed {
			continue
		}

		var err error
		if deleting {
			err = a.repo.DeleteMessage(ctx, u.MessageID)
		} else {
			err = a.repo.SaveMessage(ctx, threadID, msg)
		}
		if err != nil {
			a.logger.Error("failed to persist synced message", "message_id", u.MessageID, "error", err)
		}
	}
}
