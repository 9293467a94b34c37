// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
)

func msgAt(id, content string, at time.Time) chat.Message {
	return chat.Message{ID: id, Role: chat.RoleUser, Content: content, CreatedAt: at, UpdatedAt: at}
}

func TestDetectMessageChanges_ModifiedAndAdded(t *testing.T) {
	a := msgAt("A", "a", created)
	b := msgAt("B", "b", created)
	bEdited := b
	bEdited.Content = "b2"
	c := msgAt("C", "c", created)

	prev := []chat.Chat{{ID: "t1", Messages: []chat.Message{a, b}}}
	curr := []chat.Chat{{ID: "t1", Messages: []chat.Message{a, bEdited, c}}}

	changes := DetectMessageChanges(prev, curr)
	require.Len(t, changes, 2)
	assert.Equal(t, MessageChange{Type: ChangeModified, ThreadID: "t1", Message: bEdited}, changes[0])
	assert.Equal(t, MessageChange{Type: ChangeAdded, ThreadID: "t1", Message: c}, changes[1])
}

func TestDetectMessageChanges_Deleted(t *testing.T) {
	a := msgAt("A", "a", created)
	b := msgAt("B", "b", created)

	changes := DetectMessageChanges(
		[]chat.Chat{{ID: "t1", Messages: []chat.Message{a, b}}},
		[]chat.Chat{{ID: "t1", Messages: []chat.Message{a}}},
	)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeDeleted, changes[0].Type)
	assert.Equal(t, "B", changes[0].Message.ID)
	assert.Equal(t, "t1", changes[0].ThreadID)
}

func TestDetectMessageChanges_Fields(t *testing.T) {
	base := msgAt("A", "a", created)

	touched := base
	touched.UpdatedAt = created.Add(time.Second)

	withFile := base
	withFile.Attachments = []chat.Attachment{{ID: "f1", Name: "x.txt"}}

	metricsOnly := base
	metricsOnly.Metrics = &chat.StreamMetrics{StartTime: 1}

	tests := []struct {
		name string
		curr chat.Message
		want int
	}{
		{"unchanged", base, 0},
		{"updated at", touched, 1},
		{"attachments", withFile, 1},
		{"fields outside the comparison", metricsOnly, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := DetectMessageChanges(
				[]chat.Chat{{ID: "t1", Messages: []chat.Message{base}}},
				[]chat.Chat{{ID: "t1", Messages: []chat.Message{tt.curr}}},
			)
			assert.Len(t, changes, tt.want)
		})
	}
}

func TestDetectMessageChanges_IgnoresTemporaryChats(t *testing.T) {
	a := msgAt("A", "a", created)
	prev := []chat.Chat{{ID: "tmp", IsTemporary: true, Messages: []chat.Message{a}}}
	curr := []chat.Chat{{ID: "tmp", IsTemporary: true, Messages: []chat.Message{a, msgAt("B", "b", created)}}}

	assert.Empty(t, DetectMessageChanges(prev, curr))
	assert.Empty(t, DetectMessageChanges(prev, nil))
}

func TestLoopGuard(t *testing.T) {
	g := NewLoopGuard()
	value := chat.DisabledModels{"p1": {"m1"}}

	assert.True(t, g.Observe("models", value), "unknown key is a local change")
	assert.False(t, g.Observe("models", value))

	g.Record("models", chat.DisabledModels{"p1": {"m2"}})
	assert.True(t, g.Observe("models", value))

	msg := msgAt("A", "a", created)
	g.Record(messageGuardKey("A"), msg)
	edited := msg
	edited.Content = "b"
	assert.False(t, g.Consume(messageGuardKey("A"), edited))
	assert.True(t, g.Consume(messageGuardKey("A"), msg))
	assert.False(t, g.Consume(messageGuardKey("A"), msg), "consumed once")

	g.Record("x", 1)
	g.Reset()
	assert.True(t, g.Observe("x", 1))
}
