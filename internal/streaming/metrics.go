// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"math"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/util"
)

// EstimatePromptTokens asks the model for a prompt count when it can
// provide one, and otherwise estimates 0.75 tokens per whitespace-separated
// piece of content.
func EstimatePromptTokens(messages []chat.Message, lm provider.LanguageModel) int {
	if tc, ok := lm.(provider.TokenCounter); ok {
		return tc.CountTokens(messages).PromptTokens
	}
	pieces := 0
	for _, m := range messages {
		pieces += util.SplitCount(m.Content)
	}
	return int(math.Round(float64(pieces) * 0.75))
}

// CalculateStreamMetrics closes out the metrics of a turn that started at
// startMs (unix ms). TokensPerSecond stays nil unless completion tokens
// were produced.
func CalculateStreamMetrics(startMs int64, completionTokens, promptTokens int, thinkingTime *int64, end time.Time) chat.StreamMetrics {
	endMs := end.UnixMilli()
	total := endMs - startMs

	m := chat.StreamMetrics{
		StartTime:        startMs,
		EndTime:          endMs,
		TotalTime:        total,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		ThinkingTime:     thinkingTime,
	}
	if completionTokens > 0 && total > 0 {
		tps := float64(completionTokens) / (float64(total) / 1000)
		m.TokensPerSecond = &tps
	}
	return m
}

// UsageFrom copies the token counts of m.
func UsageFrom(m chat.StreamMetrics) *chat.Usage {
	return &chat.Usage{
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		TotalTokens:      m.TotalTokens,
	}
}
