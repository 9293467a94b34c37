// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
)

// DefaultTitle names a chat with nothing to summarise.
const DefaultTitle = "New Chat"

const (
	fallbackTitleRunes  = 30
	generatedTitleRunes = 50
	minTitleRunes       = 3
)

const titleInstruction = `You are an assistant that generates short chat titles based on the first message from a user. ` +
	`Generate a concise, descriptive title (2-6 words) that captures the main topic or intent. ` +
	`If appropriate, you can add a single emoji at the beginning (it NEEDS to be at the beginning). ` +
	`Keep it brief and clear. The title should be suitable for a chat application and help users quickly identify the conversation's purpose. ` +
	`There's no situation where a title is not needed, so always generate one. Never ever directly quote the user's message. ` +
	`If you cannot determine a suitable title, summarize the message in a few words. ` +
	`You should never ever include any other text or reasoning in the response, just the title itself. ` +
	`You shouldn't refer to the conversation as a "chat", "conversation" or "starting". ` +
	`Please make sure that the emoji is at the beginning of the title, and that it is relevant to the topic.

Generate a title for this message:

`

var (
	thinkBlock  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	titleQuotes = regexp.MustCompile(`^["']|["']$`)
)

// =============================================================================
// TITLE GENERATOR
// =============================================================================

// TitleGenerator names chats from their first user message.
type TitleGenerator struct {
	Registry  *provider.Registry
	Instances func() chat.ProviderInstances
	Settings  func() chat.AdvancedSettings
	Logger    *slog.Logger
	// Timeout bounds one generation request. Zero means 30s.
	Timeout time.Duration
}

// Generate returns a title for userMessage. It never fails: when generation
// is disabled, impossible, or produces nothing usable, the fallback title
// derived from the message is returned.
func (g *TitleGenerator) Generate(ctx context.Context, userMessage, preferredInstanceID string) string {
	settings := g.Settings()
	if !settings.TitleGenerationEnabled {
		return FallbackTitle(userMessage)
	}

	inst, model, ok := g.pickModel(settings, preferredInstanceID)
	if !ok {
		return FallbackTitle(userMessage)
	}

	lm, err := g.Registry.ForInstance(inst, model)
	if err != nil {
		g.logger().Warn("title model unavailable", "instance", inst.ID, "model", model, "error", err)
		return FallbackTitle(userMessage)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := collectContent(ctx, lm, titleInstruction+userMessage)
	if err != nil {
		g.logger().Warn("title generation failed", "instance", inst.ID, "model", model, "error", err)
		return FallbackTitle(userMessage)
	}

	if title := SanitizeTitle(raw); title != "" {
		return title
	}
	return FallbackTitle(userMessage)
}

// pickModel chooses the instance and model for title requests. A
// "instanceId:modelId" setting wins; otherwise the known provider's cheap
// default, otherwise the instance's own model.
func (g *TitleGenerator) pickModel(settings chat.AdvancedSettings, preferredID string) (chat.ProviderInstance, string, bool) {
	instances := g.Instances()
	list := instances.List()
	if len(list) == 0 {
		return chat.ProviderInstance{}, "", false
	}

	inst := list[0]
	if p, ok := instances[preferredID]; ok && preferredID != "" {
		inst = p
	}

	if custom := strings.TrimSpace(settings.TitleGenerationModel); custom != "" {
		instanceID, modelID, _ := strings.Cut(custom, ":")
		if instanceID != "" && modelID != "" {
			if ci, ok := instances[instanceID]; ok {
				return ci, modelID, true
			}
		}
		if inst.Config.Model == "" {
			return chat.ProviderInstance{}, "", false
		}
		return inst, inst.Config.Model, true
	}

	if m := provider.DefaultTitleModel(inst.Config.MatchedProvider); m != "" {
		return inst, m, true
	}
	if inst.Config.Model == "" {
		return chat.ProviderInstance{}, "", false
	}
	return inst, inst.Config.Model, true
}

// Regenerate retitles the chat with chatID from its first user message and
// writes the title into chats. It returns false when titles are disabled or
// the chat has no user text.
func (g *TitleGenerator) Regenerate(ctx context.Context, chats *chat.Store[[]chat.Chat], chatID, instanceID string) (string, bool) {
	if !g.Settings().TitleGenerationEnabled {
		return "", false
	}
	c, ok := chat.FindChat(chats.Get(), chatID)
	if !ok || len(c.Messages) == 0 {
		return "", false
	}

	var first *chat.Message
	for i := range c.Messages {
		if c.Messages[i].Role == chat.RoleUser {
			first = &c.Messages[i]
			break
		}
	}
	if first == nil || strings.TrimSpace(first.Content) == "" {
		return "", false
	}

	if instanceID == "" {
		instanceID = c.ProviderInstanceID
	}
	title := g.Generate(ctx, first.Content, instanceID)

	chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, chatID, func(ch chat.Chat) chat.Chat {
			ch.Title = title
			ch.UpdatedAt = time.Now()
			return ch
		})
	})
	return title, true
}

func (g *TitleGenerator) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// collectContent sends prompt as both system and user message, for models
// that ignore system prompts, and returns the visible text of the answer.
func collectContent(ctx context.Context, lm provider.LanguageModel, prompt string) (string, error) {
	now := time.Now()
	msgs := []chat.Message{
		{ID: "system", Role: chat.RoleSystem, Content: prompt, CreatedAt: now, UpdatedAt: now},
		{ID: "user", Role: chat.RoleUser, Content: prompt, CreatedAt: now, UpdatedAt: now},
	}
	r, err := lm.Stream(ctx, msgs, provider.StreamOptions{})
	if err != nil {
		return "", err
	}
	defer r.Cancel()

	var b strings.Builder
	for {
		c, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(c, provider.ReasoningPrefix) {
			continue
		}
		b.WriteString(c)
	}
}

// =============================================================================
// TITLE TEXT
// =============================================================================

// SanitizeTitle cleans a model-generated title: trims, drops one wrapping
// quote at each end and any <think> blocks, and caps the length at a word
// boundary. It returns "" when fewer than 3 characters remain.
func SanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = titleQuotes.ReplaceAllString(title, "")
	title = strings.TrimSpace(thinkBlock.ReplaceAllString(title, ""))

	if runes := []rune(title); len(runes) > generatedTitleRunes {
		title = strings.TrimSpace(string(runes[:generatedTitleRunes]))
		if i := runeLastIndex(title, ' '); i > 20 {
			title = string([]rune(title)[:i]) + "..."
		} else {
			title += "..."
		}
	}

	if len([]rune(title)) < minTitleRunes {
		return ""
	}
	return title
}

// FallbackTitle derives a title from the message text itself, cutting at a
// sentence end or word boundary when it is longer than 30 characters.
func FallbackTitle(userMessage string) string {
	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		return DefaultTitle
	}
	runes := []rune(trimmed)
	if len(runes) <= fallbackTitleRunes {
		return trimmed
	}

	head := runes[:fallbackTitleRunes]
	lastPunct := -1
	for i, r := range head {
		if r == '.' || r == '?' || r == '!' {
			lastPunct = i
		}
	}
	if lastPunct > 10 {
		return string(head[:lastPunct+1])
	}

	lastSpace := -1
	for i, r := range head {
		if r == ' ' {
			lastSpace = i
		}
	}
	if lastSpace > 10 {
		return string(head[:lastSpace]) + "..."
	}
	return string(head) + "..."
}

// runeLastIndex is strings.LastIndexRune counted in runes.
func runeLastIndex(s string, target rune) int {
	last := -1
	for i, r := range []rune(s) {
		if r == target {
			last = i
		}
	}
	return last
}
