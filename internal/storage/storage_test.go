// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
)

func openStores(t *testing.T) map[string]KV {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]KV{"sqlite": sq, "memory": NewMemoryStore()}
}

// =============================================================================
// KV CONTRACT
// =============================================================================

func TestKV_Contract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, NSSettings, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Put(ctx, NSMessages, "m2", "t1", []byte("b")))
			require.NoError(t, kv.Put(ctx, NSMessages, "m1", "t1", []byte("a")))
			require.NoError(t, kv.Put(ctx, NSMessages, "m3", "t2", []byte("c")))

			v, err := kv.Get(ctx, NSMessages, "m1")
			require.NoError(t, err)
			assert.Equal(t, "a", string(v))

			// Upsert replaces value and parent
			require.NoError(t, kv.Put(ctx, NSMessages, "m1", "t1", []byte("a2")))
			v, _ = kv.Get(ctx, NSMessages, "m1")
			assert.Equal(t, "a2", string(v))

			byParent, err := kv.ListByParent(ctx, NSMessages, "t1")
			require.NoError(t, err)
			require.Len(t, byParent, 2)
			assert.Equal(t, "m1", byParent[0].Key)

			all, err := kv.List(ctx, NSMessages)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, kv.Delete(ctx, NSMessages, "m1"))
			require.NoError(t, kv.Delete(ctx, NSMessages, "never-existed"))
			_, err = kv.Get(ctx, NSMessages, "m1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, kv.Close())
			_, err = kv.Get(ctx, NSMessages, "m2")
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, PutJSON(ctx, s, NSSettings, "machineId", "", "abc"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	var got string
	require.NoError(t, GetJSON(ctx, s, NSSettings, "machineId", &got))
	assert.Equal(t, "abc", got)
}

// =============================================================================
// CHAT REPOSITORY
// =============================================================================

func sampleChat() chat.Chat {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return chat.Chat{
		ID:        "chat-1",
		Title:     "Hello",
		CreatedAt: base,
		UpdatedAt: base.Add(time.Minute),
		Messages: []chat.Message{
			{ID: "m2", Role: chat.RoleAssistant, Content: "Hi there", CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second)},
			{ID: "m1", Role: chat.RoleUser, Content: "Hello", CreatedAt: base, UpdatedAt: base,
				Attachments: []chat.Attachment{{ID: "a1", Type: "file", Name: "notes.txt", Size: 3, MimeType: "text/plain", Data: "YWJj"}}},
		},
	}
}

func TestChatRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(NewMemoryStore(), logging.Discard())

	require.NoError(t, repo.SaveChat(ctx, sampleChat()))

	chats, err := repo.LoadChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)

	c := chats[0]
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "m1", c.Messages[0].ID, "sorted by createdAt")
	require.Len(t, c.Messages[0].Attachments, 1)
	assert.Equal(t, "notes.txt", c.Messages[0].Attachments[0].Name)

	th, err := repo.GetThread(ctx, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, 2, th.MessageCount)
	assert.Equal(t, c.UpdatedAt, th.LastMessageDate)
}

func TestChatRepository_SaveRemovesStaleMessagesAndAttachments(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	repo := NewChatRepository(kv, logging.Discard())

	c := sampleChat()
	require.NoError(t, repo.SaveChat(ctx, c))

	// Drop the user message carrying the attachment
	c = c.WithoutMessage("m1")
	require.NoError(t, repo.SaveChat(ctx, c))

	msgs, err := repo.GetMessages(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)

	_, err = kv.Get(ctx, NSAttachments, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatRepository_EmptyThreadIsDeletedOnRead(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	repo := NewChatRepository(kv, logging.Discard())

	empty := chat.Chat{ID: "empty", Title: "nothing", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, repo.SaveChat(ctx, empty))

	th, err := repo.GetThread(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, empty.CreatedAt.UnixNano(), th.LastMessageDate.UnixNano())

	c, err := repo.GetChatFromThread(ctx, th)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = repo.GetThread(ctx, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChatRepository_TemporaryChatNotSaved(t *testing.T) {
	ctx := context.Background()
	repo := NewChatRepository(NewMemoryStore(), logging.Discard())

	c := sampleChat()
	c.IsTemporary = true
	require.NoError(t, repo.SaveChat(ctx, c))

	threads, err := repo.GetAllThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestChatRepository_DeleteThread(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	repo := NewChatRepository(kv, logging.Discard())
	require.NoError(t, repo.SaveChat(ctx, sampleChat()))

	require.NoError(t, repo.DeleteThread(ctx, "chat-1"))

	for _, ns := range []string{NSThreads, NSMessages, NSAttachments} {
		entries, err := kv.List(ctx, ns)
		require.NoError(t, err)
		assert.Empty(t, entries, ns)
	}
}

func TestChatRepository_ExportImport(t *testing.T) {
	ctx := context.Background()
	src := NewChatRepository(NewMemoryStore(), logging.Discard())
	require.NoError(t, src.SaveChat(ctx, sampleChat()))

	path := filepath.Join(t.TempDir(), "export.json")
	n, err := src.ExportToFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dst := NewChatRepository(NewMemoryStore(), logging.Discard())
	imported, err := dst.ImportFromFile(ctx, path)
	require.NoError(t, err)
	require.Len(t, imported, 1)

	chats, err := dst.LoadChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Hi there", chats[0].Messages[1].Content)
}
