// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"time"
)

// FindChat returns the chat with id.
func FindChat(chats []Chat, id string) (Chat, bool) {
	for _, c := range chats {
		if c.ID == id {
			return c, true
		}
	}
	return Chat{}, false
}

// FindMessage returns the message with id.
func (c Chat) FindMessage(id string) (Message, bool) {
	for _, m := range c.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// UpdateChat returns a copy of chats with fn applied to the chat with id.
// chats is returned unchanged when no chat matches.
func UpdateChat(chats []Chat, id string, fn func(Chat) Chat) []Chat {
	for i, c := range chats {
		if c.ID != id {
			continue
		}
		out := make([]Chat, len(chats))
		copy(out, chats)
		out[i] = fn(c)
		return out
	}
	return chats
}

// ReplaceChat swaps in c by id, appending it when absent.
func ReplaceChat(chats []Chat, c Chat) []Chat {
	for i := range chats {
		if chats[i].ID == c.ID {
			out := make([]Chat, len(chats))
			copy(out, chats)
			out[i] = c
			return out
		}
	}
	out := make([]Chat, len(chats), len(chats)+1)
	copy(out, chats)
	return append(out, c)
}

// RemoveChat drops the chat with id.
func RemoveChat(chats []Chat, id string) []Chat {
	out := make([]Chat, 0, len(chats))
	for _, c := range chats {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// WithMessage returns a copy of c with fn applied to the message with id.
func (c Chat) WithMessage(id string, fn func(Message) Message) Chat {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	for i := range msgs {
		if msgs[i].ID == id {
			msgs[i] = fn(msgs[i])
		}
	}
	c.Messages = msgs
	return c
}

// WithMessages returns a copy of c with msgs appended.
func (c Chat) WithMessages(msgs ...Message) Chat {
	out := make([]Message, len(c.Messages), len(c.Messages)+len(msgs))
	copy(out, c.Messages)
	c.Messages = append(out, msgs...)
	return c
}

// UpsertMessage replaces the message with the same id or appends m.
func (c Chat) UpsertMessage(m Message) Chat {
	for _, existing := range c.Messages {
		if existing.ID == m.ID {
			return c.WithMessage(m.ID, func(Message) Message { return m })
		}
	}
	return c.WithMessages(m)
}

// WithoutMessage returns a copy of c without the message with id.
func (c Chat) WithoutMessage(id string) Chat {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.ID != id {
			out = append(out, m)
		}
	}
	c.Messages = out
	return c
}

// LastMessageDate is the newest message UpdatedAt, or the chat's own
// UpdatedAt when it has no messages.
func (c Chat) LastMessageDate() time.Time {
	if len(c.Messages) == 0 {
		return c.UpdatedAt
	}
	latest := c.Messages[0].UpdatedAt
	for _, m := range c.Messages[1:] {
		if m.UpdatedAt.After(latest) {
			latest = m.UpdatedAt
		}
	}
	return latest
}

// Thread returns the persisted header for c.
func (c Chat) Thread() Thread {
	last := c.CreatedAt
	if len(c.Messages) > 0 {
		last = c.UpdatedAt
	}
	return Thread{
		ID:                   c.ID,
		Title:                c.Title,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
		LastMessageDate:      last,
		MessageCount:         len(c.Messages),
		ProviderInstanceID:   c.ProviderInstanceID,
		Model:                c.Model,
		Pinned:               c.Pinned,
		BranchedFrom:         c.BranchedFrom,
		WebSearchEnabled:     c.WebSearchEnabled,
		WebSearchContextSize: c.WebSearchContextSize,
	}
}

// ChatFromThread builds an in-memory chat from a thread and its messages.
func ChatFromThread(t Thread, msgs []Message) Chat {
	SortMessages(msgs)
	return Chat{
		ID:                   t.ID,
		Title:                t.Title,
		Messages:             msgs,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		ProviderInstanceID:   t.ProviderInstanceID,
		Model:                t.Model,
		Pinned:               t.Pinned,
		BranchedFrom:         t.BranchedFrom,
		WebSearchEnabled:     t.WebSearchEnabled,
		WebSearchContextSize: t.WebSearchContextSize,
	}
}

// SortMessages orders msgs by CreatedAt, keeping insertion order for ties.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

// SortChats orders chats pinned first, then most recently updated.
func SortChats(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].Pinned != chats[j].Pinned {
			return chats[i].Pinned
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

// List returns the instances ordered by id. Ids are time-ordered, so this is
// creation order.
func (p ProviderInstances) List() []ProviderInstance {
	out := make([]ProviderInstance, 0, len(p))
	for _, inst := range p {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
