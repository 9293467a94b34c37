// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
)

type countingModel struct{ fakeModel }

func (*countingModel) CountTokens([]chat.Message) provider.TokenUsage {
	return provider.TokenUsage{PromptTokens: 42}
}

func TestCalculateStreamMetrics(t *testing.T) {
	start := time.UnixMilli(10_000)

	m := CalculateStreamMetrics(start.UnixMilli(), 10, 5, nil, start.Add(2*time.Second))
	assert.Equal(t, int64(2000), m.TotalTime)
	assert.Equal(t, 15, m.TotalTokens)
	require.NotNil(t, m.TokensPerSecond)
	assert.InDelta(t, 5.0, *m.TokensPerSecond, 1e-9)

	m = CalculateStreamMetrics(start.UnixMilli(), 0, 5, nil, start.Add(2*time.Second))
	assert.Nil(t, m.TokensPerSecond, "no completion tokens")

	m = CalculateStreamMetrics(start.UnixMilli(), 3, 5, nil, start)
	assert.Nil(t, m.TokensPerSecond, "zero duration")
}

func TestEstimatePromptTokens(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleUser, Content: "one two three"},
		{Role: chat.RoleAssistant, Content: "four five"},
	}
	// 5 pieces * 0.75 = 3.75
	assert.Equal(t, 4, EstimatePromptTokens(msgs, &fakeModel{}))
	assert.Equal(t, 42, EstimatePromptTokens(msgs, &countingModel{}))
}
