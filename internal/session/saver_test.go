// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newChat(id, content string) chat.Chat {
	return chat.Chat{
		ID:        id,
		Title:     "Chat " + id,
		CreatedAt: t0,
		UpdatedAt: t0,
		Messages: []chat.Message{{
			ID: id + "-m1", Role: chat.RoleUser, Content: content, CreatedAt: t0, UpdatedAt: t0,
		}},
	}
}

func newTestSaver(t *testing.T, initial []chat.Chat, delay time.Duration) (*Saver, *chat.Store[[]chat.Chat], *storage.ChatRepository) {
	t.Helper()
	repo := storage.NewChatRepository(storage.NewMemoryStore(), logging.Discard())
	chats := chat.NewStore(initial)
	s := NewSaver(chats, repo, Config{AutoSaveDelay: delay}, logging.Discard())
	s.Start()
	return s, chats, repo
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.AutoSaveDelay)
	assert.Equal(t, 10*time.Second, cfg.SaveTimeout)
}

func TestSaver_WritesChangedChatAfterDelay(t *testing.T) {
	s, chats, repo := newTestSaver(t, nil, 20*time.Millisecond)
	defer s.Close()

	chats.Set([]chat.Chat{newChat("c1", "one")})

	require.Eventually(t, func() bool {
		msgs, err := repo.GetMessages(context.Background(), "c1")
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.IsDirty())
	require.NoError(t, s.LastError())
}

func TestSaver_CoalescesToLatestSnapshot(t *testing.T) {
	s, chats, repo := newTestSaver(t, nil, time.Hour)

	for _, content := range []string{"H", "He", "Hello"} {
		chats.Set([]chat.Chat{newChat("c1", content)})
	}
	require.NoError(t, s.Close())

	msgs, err := repo.GetMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestSaver_SkipsUnchangedAndTemporaryChats(t *testing.T) {
	existing := newChat("c1", "one")
	s, chats, repo := newTestSaver(t, []chat.Chat{existing}, time.Hour)

	tmp := newChat("tmp", "scratch")
	tmp.IsTemporary = true
	chats.Set([]chat.Chat{existing, tmp})
	assert.False(t, s.IsDirty())
	require.NoError(t, s.Close())

	threads, err := repo.GetAllThreads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestSaver_DeletesRemovedChat(t *testing.T) {
	c1 := newChat("c1", "one")
	s, chats, repo := newTestSaver(t, nil, time.Hour)
	ctx := context.Background()

	chats.Set([]chat.Chat{c1})
	require.NoError(t, s.Flush())
	_, err := repo.GetThread(ctx, "c1")
	require.NoError(t, err)

	chats.Set(nil)
	require.NoError(t, s.Close())
	_, err = repo.GetThread(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
