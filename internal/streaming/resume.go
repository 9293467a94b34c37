// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"errors"
	"math"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/util"
)

const continuationPrompt = "You previously wrote the following text. Continue writing exactly where you left off, " +
	"maintaining the same style, tone, and flow. Make sure there's proper spacing between the last word of the " +
	"existing text and the first word of your continuation. Do not repeat any content, do not start a new section, " +
	"do not introduce the topic again, and do not acknowledge this instruction in your response. " +
	"Just continue writing as if you never stopped:\n\n"

const resumeErrorContent = "Error resuming generation."

// ErrResumeTarget is returned when the message to resume is not in the chat.
var ErrResumeTarget = errors.New("Message not found for resuming")

// ResumeRequest continues an interrupted assistant message.
type ResumeRequest struct {
	Chat               chat.Chat
	AssistantMessageID string
	ProviderInstanceID string
	ModelID            string
	// ContextMessages is the history recorded when the original stream
	// started.
	ContextMessages []ContextMessage
}

// ResumeFromState builds a ResumeRequest from a recorded stream.
func ResumeFromState(st StreamState, c chat.Chat, instanceID, modelID string) ResumeRequest {
	return ResumeRequest{
		Chat:               c,
		AssistantMessageID: st.MessageID,
		ProviderInstanceID: instanceID,
		ModelID:            modelID,
		ContextMessages:    st.ContextMessages,
	}
}

// Resume asks the model to continue the assistant message from its current
// content. New text is appended to what is already there; earlier token
// counts carry over into the prompt total.
func (c *Controller) Resume(ctx context.Context, req ResumeRequest) (State, error) {
	gen, ok := c.begin()
	if !ok {
		return c.State(), nil
	}
	if len(req.ContextMessages) == 0 {
		c.release(gen)
		return c.State(), nil
	}

	inst, err := c.instance(req.ProviderInstanceID)
	if err != nil {
		c.release(gen)
		return c.State(), err
	}
	lm, err := c.deps.Registry.ForInstance(inst, req.ModelID)
	if err != nil {
		c.release(gen)
		return c.State(), err
	}
	target, ok := req.Chat.FindMessage(req.AssistantMessageID)
	if !ok {
		c.release(gen)
		return c.State(), ErrResumeTarget
	}

	c.setStreaming(gen, target.ID)
	defer c.release(gen)

	t := &turn{
		gen:         gen,
		model:       lm,
		assistantID: target.ID,
		instanceID:  req.ProviderInstanceID,
		modelID:     req.ModelID,
		metrics:     chat.StreamMetrics{StartTime: c.deps.Now().UnixMilli()},
	}
	if target.Usage != nil {
		t.metrics.PromptTokens = target.Usage.PromptTokens
		t.metrics.CompletionTokens = target.Usage.CompletionTokens
		t.metrics.TotalTokens = target.Usage.TotalTokens
	}

	continuation := chat.Message{
		ID:      c.deps.NewID(),
		Role:    chat.RoleUser,
		Content: continuationPrompt + target.Content,
	}
	estimateResumePrompt(t, []chat.Message{
		continuation,
		{ID: target.ID, Role: chat.RoleAssistant, ProviderInstanceID: req.ProviderInstanceID, Model: lm.ModelName()},
	})

	providerMessages := c.systemMessages()
	for _, cm := range req.ContextMessages {
		if cm.ID == target.ID {
			break
		}
		providerMessages = append(providerMessages, cm.Message())
	}
	providerMessages = append(providerMessages, continuation)

	log := c.logger.With("message_id", target.ID, "model", req.ModelID)

	tctx, stop := c.turnContext(ctx, gen)
	defer stop()

	reader, err := lm.Stream(tctx, providerMessages, provider.StreamOptions{})
	if err != nil {
		if cancelledByUser(ctx, tctx) {
			log.Info("resume cancelled while opening")
			c.resumeFinished(t, Result{Content: target.Content})
			return c.State(), nil
		}
		log.Warn("failed to open resume stream", "error", err)
		c.resumeFailed(t, err, "")
		return c.State(), nil
	}
	if cancelledByUser(ctx, tctx) {
		reader.Cancel()
		c.resumeFinished(t, Result{Content: target.Content})
		return c.State(), nil
	}
	c.setReader(gen, reader)
	if c.deps.States != nil {
		c.deps.States.StartStream(c.chatID, target.ID, req.ContextMessages)
	}

	res, err := NewProcessor(c.chatID, target.ID, c.deps.States, c.updateMessage).Process(reader, target.Content)
	if err != nil && cancelledByUser(ctx, tctx) {
		err = nil
	}
	if err != nil {
		log.Warn("resume stream failed", "error", err)
		c.resumeFailed(t, err, res.Reasoning)
		return c.State(), nil
	}

	t.metrics.ThinkingTime = res.ThinkingTime
	c.resumeFinished(t, res)
	return c.State(), nil
}

// estimateResumePrompt adds the continuation prompt to the carried-over
// counts, or replaces them with a 1.3 tokens-per-piece estimate when the
// model cannot count.
func estimateResumePrompt(t *turn, minimal []chat.Message) {
	if tc, ok := t.model.(provider.TokenCounter); ok {
		n := tc.CountTokens(minimal).PromptTokens
		t.metrics.PromptTokens += n
		t.metrics.TotalTokens += n
		return
	}
	pieces := 0
	for _, m := range minimal {
		pieces += util.SplitCount(m.Content)
	}
	est := int(math.Ceil(float64(pieces) * 1.3))
	t.metrics.PromptTokens = est
	t.metrics.TotalTokens = est
}

func (c *Controller) resumeFinished(t *turn, res Result) {
	if c.deps.States != nil {
		c.deps.States.EndStreamFor(c.chatID, t.assistantID)
	}
	c.settle(t.gen)

	now := c.deps.Now()
	final := CalculateStreamMetrics(t.metrics.StartTime, t.model.CompletionTokenCount(), t.metrics.PromptTokens, t.metrics.ThinkingTime, now)

	updated := c.updateChat(func(ch chat.Chat) chat.Chat {
		ch = ch.WithMessage(t.assistantID, func(m chat.Message) chat.Message {
			m.Content = res.Content
			if res.Reasoning != "" {
				m.Reasoning = res.Reasoning
			}
			m.Error = nil
			m.UpdatedAt = now
			m.Usage = UsageFrom(final)
			metrics := final
			m.Metrics = &metrics
			return m
		})
		ch.UpdatedAt = now
		return ch
	})
	if updated != nil {
		c.syncThread(*updated)
	}
}

func (c *Controller) resumeFailed(t *turn, err error, reasoning string) {
	c.mu.Lock()
	if c.generation == t.gen {
		c.reader = nil
		c.stop = nil
	}
	c.mu.Unlock()

	now := c.deps.Now()
	nowMs := now.UnixMilli()
	details := classifyError(err, t.model.ID())

	updated := c.updateChat(func(ch chat.Chat) chat.Chat {
		ch = ch.WithMessage(t.assistantID, func(m chat.Message) chat.Message {
			if m.Content == "" {
				m.Content = resumeErrorContent
			}
			if reasoning != "" {
				m.Reasoning = reasoning
			}
			m.Error = details
			m.UpdatedAt = now
			m.Usage = &chat.Usage{
				PromptTokens:     t.metrics.PromptTokens,
				CompletionTokens: t.metrics.CompletionTokens,
				TotalTokens:      t.metrics.TotalTokens,
			}
			m.Metrics = &chat.StreamMetrics{
				StartTime:        t.metrics.StartTime,
				EndTime:          nowMs,
				TotalTime:        nowMs - t.metrics.StartTime,
				PromptTokens:     t.metrics.PromptTokens,
				CompletionTokens: t.metrics.CompletionTokens,
				TotalTokens:      t.metrics.TotalTokens,
				ThinkingTime:     t.metrics.ThinkingTime,
			}
			return m
		})
		ch.UpdatedAt = now
		return ch
	})

	if c.deps.States != nil {
		c.deps.States.EndStreamFor(c.chatID, t.assistantID)
	}
	c.mu.Lock()
	if c.generation == t.gen {
		c.streamingID = ""
	}
	c.mu.Unlock()

	if updated != nil {
		c.syncThread(*updated)
	}
}
