// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/storage"
)

func TestStateStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := NewStateStore(kv, logging.Discard())

	var seen []map[string]StreamState
	unsub := s.Subscribe(func(m map[string]StreamState) { seen = append(seen, m) })
	defer unsub()

	ctxMsgs := ContextFromMessages([]chat.Message{{ID: "u1", Role: chat.RoleUser, Content: "hi"}})
	s.StartStream("c1", "m1", ctxMsgs)
	assert.True(t, s.IsMessageStreaming("c1", "m1"))
	assert.False(t, s.IsMessageStreaming("c1", "other"))

	_, ok := s.PartialContent("c1")
	assert.False(t, ok, "empty content reads as absent")

	s.UpdateContent("c1", "Hel")
	s.UpdateContent("c1", "Hello")
	s.UpdateReasoning("c1", "thinking")

	content, ok := s.PartialContent("c1")
	require.True(t, ok)
	assert.Equal(t, "Hello", content)

	got, ok := s.ContextMessages("c1")
	require.True(t, ok)
	assert.Equal(t, ctxMsgs, got)

	var persisted StreamState
	require.NoError(t, storage.GetJSON(ctx, kv, storage.NSStreamStates, "streamState.m1", &persisted))
	assert.Equal(t, "Hello", persisted.PartialContent)
	assert.Equal(t, "thinking", persisted.PartialReasoning)

	s.EndStream("c1")
	_, ok = s.State("c1")
	assert.False(t, ok)
	assert.ErrorIs(t, storage.GetJSON(ctx, kv, storage.NSStreamStates, "streamState.m1", &persisted), storage.ErrNotFound)
	assert.NotEmpty(t, seen)
}

func TestStateStore_UpdatesWithoutStreamAreIgnored(t *testing.T) {
	kv := storage.NewMemoryStore()
	s := NewStateStore(kv, logging.Discard())

	s.UpdateContent("c1", "x")
	s.UpdateReasoning("c1", "y")
	s.EndStream("c1")

	assert.Empty(t, s.Active())
	recs, err := kv.List(context.Background(), storage.NSStreamStates)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLoadStateStore_DropsCorruptRecords(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()

	require.NoError(t, kv.Put(ctx, storage.NSStreamStates, "streamState.bad", "", []byte("{not json")))
	require.NoError(t, storage.PutJSON(ctx, kv, storage.NSStreamStates, "streamState.orphan", "", StreamState{MessageID: "orphan"}))
	require.NoError(t, storage.PutJSON(ctx, kv, storage.NSStreamStates, "streamState.m1", "c1", StreamState{
		ChatID: "c1", MessageID: "m1", IsStreaming: true, PartialContent: "Once upon",
	}))

	s, err := LoadStateStore(ctx, kv, logging.Discard())
	require.NoError(t, err)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "c1", active[0].ChatID)
	assert.NotNil(t, active[0].ContextMessages)

	content, ok := s.PartialContent("c1")
	require.True(t, ok)
	assert.Equal(t, "Once upon", content)

	recs, err := kv.List(ctx, storage.NSStreamStates)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "unreadable records deleted")
}

func TestContextMessageRoundTrip(t *testing.T) {
	msgs := []chat.Message{
		{ID: "u1", Role: chat.RoleUser, Content: "hi", Attachments: []chat.Attachment{{ID: "a1", Type: "file", Name: "n.txt"}}},
		{ID: "a1", Role: chat.RoleAssistant, Content: "hello", Reasoning: "r"},
	}
	back := ContextFromMessages(msgs)
	require.Len(t, back, 2)
	assert.Equal(t, "hi", back[0].Message().Content)
	assert.Equal(t, chat.RoleAssistant, back[1].Message().Role)
}

func TestStateStore_EndStreamForOtherMessageKeepsRecord(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := NewStateStore(kv, logging.Discard())

	s.StartStream("c1", "m2", nil)
	s.UpdateContent("c1", "new turn")

	s.EndStreamFor("c1", "m1")
	st, ok := s.State("c1")
	require.True(t, ok)
	assert.Equal(t, "m2", st.MessageID)
	assert.Equal(t, "new turn", st.PartialContent)

	var persisted StreamState
	require.NoError(t, storage.GetJSON(ctx, kv, storage.NSStreamStates, "streamState.m2", &persisted))

	s.EndStreamFor("c1", "m2")
	_, ok = s.State("c1")
	assert.False(t, ok)
	assert.ErrorIs(t, storage.GetJSON(ctx, kv, storage.NSStreamStates, "streamState.m2", &persisted), storage.ErrNotFound)
}
