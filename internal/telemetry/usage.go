// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"cmp"
	"slices"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Total is input plus output.
func (t TokenCount) Total() int { return t.Input + t.Output }

func (t *TokenCount) add(u chat.Usage) {
	t.Input += u.PromptTokens
	t.Output += u.CompletionTokens
}

// ModelUsage is the usage of one provider instance and model.
type ModelUsage struct {
	InstanceID string     `json:"instanceId"`
	Model      string     `json:"model"`
	Answers    int        `json:"answers"`
	Errors     int        `json:"errors"`
	Tokens     TokenCount `json:"tokens"`

	// AvgTokensPerSecond averages answers that reported a rate.
	AvgTokensPerSecond float64 `json:"avgTokensPerSecond"`

	rateSum   float64
	rateCount int
}

// DailyUsage is one calendar day in the local time zone.
type DailyUsage struct {
	Date    time.Time  `json:"date"`
	Answers int        `json:"answers"`
	Tokens  TokenCount `json:"tokens"`
}

// ChatUsage ranks chats by tokens.
type ChatUsage struct {
	ChatID string `json:"chatId"`
	Title  string `json:"title"`
	Tokens int    `json:"tokens"`
}

// Report is usage over a window.
type Report struct {
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`
	Chats    int          `json:"chats"`
	Answers  int          `json:"answers"`
	Tokens   TokenCount   `json:"tokens"`
	Models   []ModelUsage `json:"models"`
	Daily    []DailyUsage `json:"daily"`
	TopChats []ChatUsage  `json:"topChats"`
}

// Window selects assistant messages by creation time. Days <= 0 means all
// time. Now defaults to time.Now.
type Window struct {
	Days int
	Now  time.Time
	// Top caps TopChats; 0 means 5.
	Top int
}

func (w Window) bounds() (time.Time, time.Time) {
	to := w.Now
	if to.IsZero() {
		to = time.Now()
	}
	if w.Days <= 0 {
		return time.Time{}, to
	}
	y, m, d := to.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, to.Location())
	return start.AddDate(0, 0, -(w.Days - 1)), to
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Summarize aggregates assistant messages of chats inside w. Temporary
// chats are included when present since they are never saved anyway.
func Summarize(chats []chat.Chat, w Window) Report {
	from, to := w.bounds()
	r := Report{From: from, To: to}

	models := make(map[[2]string]*ModelUsage)
	daily := make(map[string]*DailyUsage)

	for _, c := range chats {
		chatTokens := 0
		for _, m := range c.Messages {
			if m.Role != chat.RoleAssistant || m.CreatedAt.Before(from) || m.CreatedAt.After(to) {
				continue
			}
			u := usageOf(m)

			key := [2]string{m.ProviderInstanceID, m.Model}
			mu, ok := models[key]
			if !ok {
				mu = &ModelUsage{InstanceID: m.ProviderInstanceID, Model: m.Model}
				models[key] = mu
			}
			mu.Answers++
			mu.Tokens.add(u)
			if m.Error != nil {
				mu.Errors++
			}
			if m.Metrics != nil && m.Metrics.TokensPerSecond != nil && *m.Metrics.TokensPerSecond > 0 {
				mu.rateSum += *m.Metrics.TokensPerSecond
				mu.rateCount++
			}

			local := m.CreatedAt.In(to.Location())
			dayKey := local.Format("2006-01-02")
			du, ok := daily[dayKey]
			if !ok {
				y, mo, d := local.Date()
				du = &DailyUsage{Date: time.Date(y, mo, d, 0, 0, 0, 0, to.Location())}
				daily[dayKey] = du
			}
			du.Answers++
			du.Tokens.add(u)

			r.Answers++
			r.Tokens.add(u)
			chatTokens += u.PromptTokens + u.CompletionTokens
		}
		if chatTokens > 0 {
			r.Chats++
			r.TopChats = append(r.TopChats, ChatUsage{ChatID: c.ID, Title: c.Title, Tokens: chatTokens})
		}
	}

	for _, mu := range models {
		if mu.rateCount > 0 {
			mu.AvgTokensPerSecond = mu.rateSum / float64(mu.rateCount)
		}
		r.Models = append(r.Models, *mu)
	}
	slices.SortFunc(r.Models, func(a, b ModelUsage) int {
		if c := cmp.Compare(b.Tokens.Total(), a.Tokens.Total()); c != 0 {
			return c
		}
		return cmp.Compare(a.InstanceID+"/"+a.Model, b.InstanceID+"/"+b.Model)
	})

	for _, du := range daily {
		r.Daily = append(r.Daily, *du)
	}
	slices.SortFunc(r.Daily, func(a, b DailyUsage) int { return a.Date.Compare(b.Date) })

	slices.SortStableFunc(r.TopChats, func(a, b ChatUsage) int { return cmp.Compare(b.Tokens, a.Tokens) })
	top := w.Top
	if top <= 0 {
		top = 5
	}
	if len(r.TopChats) > top {
		r.TopChats = r.TopChats[:top]
	}
	return r
}

// usageOf prefers provider-reported usage and falls back to the stream
// metrics, which carry estimates when the provider sent none.
func usageOf(m chat.Message) chat.Usage {
	if m.Usage != nil && m.Usage.TotalTokens+m.Usage.PromptTokens+m.Usage.CompletionTokens > 0 {
		return *m.Usage
	}
	if m.Metrics != nil {
		return chat.Usage{
			PromptTokens:     m.Metrics.PromptTokens,
			CompletionTokens: m.Metrics.CompletionTokens,
			TotalTokens:      m.Metrics.TotalTokens,
		}
	}
	return chat.Usage{}
}
