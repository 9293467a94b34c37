// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"bytes"
	"encoding/json"

	"github.com/jeranaias/rigchat/internal/chat"
)

// ChangeType classifies a message difference.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
)

// MessageChange is one message that differs between two chat lists.
type MessageChange struct {
	Type     ChangeType
	ThreadID string
	Message  chat.Message
}

type located struct {
	msg      chat.Message
	threadID string
}

func indexMessages(chats []chat.Chat) map[string]located {
	out := make(map[string]located)
	for _, c := range chats {
		if c.IsTemporary {
			continue
		}
		for _, m := range c.Messages {
			out[m.ID] = located{msg: m, threadID: c.ID}
		}
	}
	return out
}

func sameAttachments(a, b []chat.Attachment) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// DetectMessageChanges diffs two chat lists by message id. Messages of
// temporary chats are ignored. Added and modified messages come in the
// order of current, deleted ones in the order of previous.
func DetectMessageChanges(previous, current []chat.Chat) []MessageChange {
	before := indexMessages(previous)
	after := indexMessages(current)

	var changes []MessageChange
	for _, c := range current {
		if c.IsTemporary {
			continue
		}
		for _, m := range c.Messages {
			old, ok := before[m.ID]
			switch {
			case !ok:
				changes = append(changes, MessageChange{Type: ChangeAdded, ThreadID: c.ID, Message: m})
			case old.msg.Content != m.Content ||
				!old.msg.UpdatedAt.Equal(m.UpdatedAt) ||
				!sameAttachments(old.msg.Attachments, m.Attachments):
				changes = append(changes, MessageChange{Type: ChangeModified, ThreadID: c.ID, Message: m})
			}
		}
	}

	for _, c := range previous {
		if c.IsTemporary {
			continue
		}
		for _, m := range c.Messages {
			if _, ok := after[m.ID]; !ok {
				changes = append(changes, MessageChange{Type: ChangeDeleted, ThreadID: c.ID, Message: m})
			}
		}
	}
	return changes
}
