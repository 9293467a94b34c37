// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

func newThreadSyncHarness(t *testing.T, initial []chat.Chat) (*fakeServer, *Manager, *chat.Store[[]chat.Chat], *ThreadSync) {
	t.Helper()
	fs := newFakeServer(t)
	m := newTestManager(t, nil)
	login(t, m, fs)

	chats := chat.NewStore(initial)
	ts := NewThreadSync(m, chats)
	ts.Start()
	t.Cleanup(ts.Close)
	return fs, m, chats, ts
}

func (fs *fakeServer) pushedMessage(t *testing.T, id string) chat.Message {
	t.Helper()
	fs.mu.Lock()
	req, ok := fs.messages[id]
	fs.mu.Unlock()
	require.True(t, ok, "message %s not pushed", id)
	msg, _, err := testEnvelope().openMessage(req.Data)
	require.NoError(t, err)
	return msg
}

func TestThreadSync_CoalescesStreamingUpdates(t *testing.T) {
	fs, _, chats, _ := newThreadSyncHarness(t, []chat.Chat{{ID: "t1", Title: "Chat", CreatedAt: created, UpdatedAt: created}})

	chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, "t1", func(c chat.Chat) chat.Chat {
			return c.WithMessages(msgAt("u1", "hi", created))
		})
	})
	for _, content := range []string{"H", "He", "Hello"} {
		reply := msgAt("a1", content, created.Add(time.Second))
		reply.Role = chat.RoleAssistant
		chats.Update(func(all []chat.Chat) []chat.Chat {
			return chat.UpdateChat(all, "t1", func(c chat.Chat) chat.Chat { return c.UpsertMessage(reply) })
		})
	}

	require.Eventually(t, func() bool { return fs.messageCount() == 2 }, waitFor, tick)
	assert.Equal(t, "Hello", fs.pushedMessage(t, "a1").Content)
	assert.Equal(t, "hi", fs.pushedMessage(t, "u1").Content)
}

func TestThreadSync_DoesNotEchoAppliedMessages(t *testing.T) {
	fs, m, chats, _ := newThreadSyncHarness(t, []chat.Chat{{ID: "t1", Title: "Chat", CreatedAt: created, UpdatedAt: created}})
	repo := storage.NewChatRepository(storage.NewMemoryStore(), logging.Discard())
	applier := NewApplier(m, chats, repo)

	applier.ApplyMessages(context.Background(), []MessageUpdate{{
		Operation: syncapi.OpAdd,
		ThreadID:  "t1",
		MessageID: "r1",
		Message:   msgAt("r1", "from another device", created),
	}})
	time.Sleep(settle)
	assert.Zero(t, fs.messageCount())

	// A later local edit of the same message is pushed
	chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, "t1", func(c chat.Chat) chat.Chat {
			return c.WithMessage("r1", func(msg chat.Message) chat.Message {
				msg.Content = "edited here"
				return msg
			})
		})
	})
	require.Eventually(t, func() bool { return fs.messageCount() == 1 }, waitFor, tick)
	assert.Equal(t, "edited here", fs.pushedMessage(t, "r1").Content)
}

func TestThreadSync_IgnoresTemporaryChatsAndDeletes(t *testing.T) {
	a := msgAt("A", "a", created)
	fs, _, chats, _ := newThreadSyncHarness(t, []chat.Chat{{ID: "t1", Messages: []chat.Message{a}}})

	chats.Set([]chat.Chat{
		{ID: "t1"},
		{ID: "tmp", IsTemporary: true, Messages: []chat.Message{msgAt("B", "b", created)}},
	})
	time.Sleep(settle)
	assert.Zero(t, fs.messageCount())
}

func TestThreadSync_SyncThreadsCoalescesByChat(t *testing.T) {
	fs, _, _, ts := newThreadSyncHarness(t, nil)

	first := chat.Chat{ID: "t1", Title: "Draft", CreatedAt: created, UpdatedAt: created}
	second := first
	second.Title = "Final"

	ts.SyncThread(first)
	ts.SyncThreads([]chat.Chat{second, {ID: "t2", Title: "Other", CreatedAt: created, UpdatedAt: created}})
	ts.SyncThread(chat.Chat{ID: "tmp", IsTemporary: true})

	require.Eventually(t, func() bool { return fs.threadCount() == 2 }, waitFor, tick)
	time.Sleep(settle)
	assert.Equal(t, 2, fs.threadCount())

	fs.mu.Lock()
	req := fs.threads["t1"]
	fs.mu.Unlock()
	th, err := testEnvelope().openThread(req.Data)
	require.NoError(t, err)
	assert.Equal(t, "Final", th.Title)
}

func TestThreadSync_RequiresSession(t *testing.T) {
	m := newTestManager(t, nil)
	ts := NewThreadSync(m, chat.NewStore([]chat.Chat(nil)))

	err := ts.ProcessThreadChanges(context.Background(), []chat.Chat{{ID: "t1"}})
	assert.ErrorIs(t, err, ErrUserNotAuthenticated)
	assert.Equal(t, "User not authenticated", err.Error())
}
