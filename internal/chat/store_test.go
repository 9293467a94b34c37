// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// STORE TESTS
// =============================================================================

func TestStore_SubscribeReceivesCurrentThenUpdates(t *testing.T) {
	s := NewStore(1)
	var seen []int
	unsub := s.Subscribe(func(v int) { seen = append(seen, v) })

	s.Set(2)
	got := s.Update(func(v int) int { return v * 10 })
	unsub()
	s.Set(99)

	assert.Equal(t, 20, got)
	assert.Equal(t, []int{1, 2, 20}, seen)
	assert.Equal(t, 99, s.Get())
}

func TestStore_ReentrantSetIsQueued(t *testing.T) {
	s := NewStore(0)
	var seen []int
	s.Subscribe(func(v int) {
		seen = append(seen, v)
		if v == 1 {
			s.Set(2)
		}
	})

	s.Set(1)

	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, 2, s.Get())
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore(0)
	var mu sync.Mutex
	count := 0
	s.Subscribe(func(int) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(func(v int) int { return v + 1 })
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Get())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 51
	}, time.Second, 5*time.Millisecond)
}

// =============================================================================
// UPDATE HELPER TESTS
// =============================================================================

func TestUpdateChat_DoesNotMutateInput(t *testing.T) {
	orig := []Chat{{ID: "a", Messages: []Message{{ID: "m1", Content: "old"}}}}

	next := UpdateChat(orig, "a", func(c Chat) Chat {
		return c.WithMessage("m1", func(m Message) Message {
			m.Content = "new"
			return m
		})
	})

	assert.Equal(t, "old", orig[0].Messages[0].Content)
	assert.Equal(t, "new", next[0].Messages[0].Content)
}

func TestUpsertAndRemoveMessage(t *testing.T) {
	c := Chat{ID: "a"}
	c = c.UpsertMessage(Message{ID: "m1", Content: "x"})
	c = c.UpsertMessage(Message{ID: "m1", Content: "y"})
	c = c.UpsertMessage(Message{ID: "m2"})
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "y", c.Messages[0].Content)

	c = c.WithoutMessage("m1")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "m2", c.Messages[0].ID)
}

func TestReplaceAndRemoveChat(t *testing.T) {
	chats := ReplaceChat(nil, Chat{ID: "a", Title: "one"})
	chats = ReplaceChat(chats, Chat{ID: "a", Title: "two"})
	chats = ReplaceChat(chats, Chat{ID: "b"})
	require.Len(t, chats, 2)
	assert.Equal(t, "two", chats[0].Title)

	chats = RemoveChat(chats, "a")
	_, ok := FindChat(chats, "a")
	assert.False(t, ok)
}

func TestChatThread_LastMessageDate(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	empty := Chat{ID: "a", CreatedAt: created, UpdatedAt: updated}
	assert.Equal(t, created, empty.Thread().LastMessageDate)
	assert.Equal(t, updated, empty.LastMessageDate())

	full := empty.WithMessages(
		Message{ID: "1", UpdatedAt: created.Add(3 * time.Hour)},
		Message{ID: "2", UpdatedAt: created.Add(2 * time.Hour)},
	)
	assert.Equal(t, updated, full.Thread().LastMessageDate)
	assert.Equal(t, 2, full.Thread().MessageCount)
	assert.Equal(t, created.Add(3*time.Hour), full.LastMessageDate())
}

func TestChatFromThread_SortsMessages(t *testing.T) {
	base := time.Now()
	c := ChatFromThread(Thread{ID: "t"}, []Message{
		{ID: "b", CreatedAt: base.Add(time.Second)},
		{ID: "a", CreatedAt: base},
	})
	assert.Equal(t, "a", c.Messages[0].ID)
}

func TestNewID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
