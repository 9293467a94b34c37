// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// ThreadSyncer receives every conversation the controller changes.
type ThreadSyncer interface {
	SyncThread(c chat.Chat)
}

// ModelLookup resolves cached model metadata.
type ModelLookup interface {
	Find(instanceID, modelID string) (provider.ModelInfo, bool)
}

// Deps are the collaborators of a Controller. Chats, Registry, Instances
// and States are required.
type Deps struct {
	Chats     *chat.Store[[]chat.Chat]
	Registry  *provider.Registry
	Instances func() chat.ProviderInstances
	Settings  func() chat.AdvancedSettings
	Models    ModelLookup
	States    *StateStore
	Sync      ThreadSyncer
	Logger    *slog.Logger
	NewID     chat.IDGenerator
	Now       func() time.Time
}

// State is what a caller observes about a controller.
type State struct {
	IsLoading          bool
	StreamingMessageID string
}

// SubmitRequest is one user turn.
type SubmitRequest struct {
	Input                string
	Chat                 chat.Chat
	ProviderInstanceID   string
	ModelID              string
	Attachments          []chat.Attachment
	WebSearch            bool
	WebSearchContextSize string
}

// RegenerateRequest asks for a new assistant answer to the existing
// history.
type RegenerateRequest struct {
	Chat                 chat.Chat
	ProviderInstanceID   string
	ModelID              string
	WebSearch            bool
	WebSearchContextSize string
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs assistant turns for one chat.
type Controller struct {
	chatID string
	deps   Deps
	logger *slog.Logger

	mu          sync.Mutex
	loading     bool
	streamingID string
	reader      provider.ChunkReader
	stop        context.CancelFunc
	generation  uint64
}

// NewController returns a controller for chatID.
func NewController(chatID string, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = chat.NewID
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Settings == nil {
		deps.Settings = func() chat.AdvancedSettings { return chat.AdvancedSettings{} }
	}
	return &Controller{
		chatID: chatID,
		deps:   deps,
		logger: deps.Logger.With("component", "streaming", "chat_id", chatID),
	}
}

// ChatID returns the chat this controller drives.
func (c *Controller) ChatID() string { return c.chatID }

// State returns the current loading state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{IsLoading: c.loading, StreamingMessageID: c.streamingID}
}

// begin claims the controller for a turn. It returns false when a turn is
// already in flight.
func (c *Controller) begin() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return 0, false
	}
	c.loading = true
	c.generation++
	return c.generation, true
}

// release clears the loading flag if gen still owns the controller.
func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.loading = false
	}
}

func (c *Controller) setStreaming(gen uint64, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.streamingID = messageID
	}
}

func (c *Controller) setReader(gen uint64, r provider.ChunkReader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.reader = r
	}
}

// turnContext derives the context a turn streams under. Its cancel func is
// registered so Cancel can abort a stream that is still opening.
func (c *Controller) turnContext(ctx context.Context, gen uint64) (context.Context, context.CancelFunc) {
	tctx, stop := context.WithCancel(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.stop = stop
	}
	return tctx, stop
}

// cancelledByUser reports whether tctx was cancelled through Cancel rather
// than by the caller's parent context.
func cancelledByUser(parent, tctx context.Context) bool {
	return tctx.Err() != nil && parent.Err() == nil
}

// settle marks the turn finished: no reader, no streaming message, and
// loading cleared.
func (c *Controller) settle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.reader = nil
		c.stop = nil
		c.streamingID = ""
		c.loading = false
	}
}

// Cancel stops the in-flight stream, keeping whatever content already
// arrived. A stream that is still opening is aborted. No-op when no turn
// is running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	r, stop, messageID := c.reader, c.stop, c.streamingID
	if r == nil && stop == nil {
		c.mu.Unlock()
		return
	}
	c.reader = nil
	c.stop = nil
	c.loading = false
	c.streamingID = ""
	c.mu.Unlock()

	if r != nil {
		r.Cancel()
	}
	if stop != nil {
		stop()
	}
	if c.deps.States != nil && messageID != "" {
		c.deps.States.EndStreamFor(c.chatID, messageID)
	}
	c.logger.Info("stream cancelled")
}

// =============================================================================
// TURNS
// =============================================================================

// turn is the per-invocation state of one assistant answer.
type turn struct {
	gen         uint64
	model       provider.LanguageModel
	assistantID string
	instanceID  string
	modelID     string
	webSearch   bool
	contextSize string

	providerMessages []chat.Message
	estimateMessages []chat.Message
	contextMessages  []ContextMessage

	// registerEarly records the stream state before opening the provider
	// stream rather than after.
	registerEarly bool

	metrics chat.StreamMetrics
}

// Submit appends the user's message and streams the assistant reply. A
// blank submission with no attachments, or a call while another turn is
// running, returns the current state without doing anything.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (State, error) {
	if (strings.TrimSpace(req.Input) == "" && len(req.Attachments) == 0) || req.Chat.ID == "" {
		return c.State(), nil
	}
	gen, ok := c.begin()
	if !ok {
		return c.State(), nil
	}

	lm, effectiveModel, err := c.buildModel(req.ProviderInstanceID, req.ModelID, req.WebSearch)
	if err != nil {
		c.release(gen)
		return c.State(), err
	}

	now := c.deps.Now()
	assistant := c.newAssistant(req.ProviderInstanceID, effectiveModel, req.WebSearch, req.WebSearchContextSize, now)
	providerMessages := c.systemMessages()

	existing := req.Chat.Messages
	var messages []chat.Message
	if len(existing) == 1 && existing[0].Role == chat.RoleUser && existing[0].Content == req.Input {
		// The chat was created with this message already in it; answer it
		// instead of adding a duplicate.
		messages = append(append(messages, existing...), assistant)
		for _, m := range existing {
			if m.Role == chat.RoleUser && m.Content == req.Input && len(req.Attachments) > 0 {
				m.Attachments = req.Attachments
			}
			providerMessages = append(providerMessages, m)
		}
	} else {
		user := chat.Message{
			ID:          c.deps.NewID(),
			Role:        chat.RoleUser,
			Content:     req.Input,
			Attachments: req.Attachments,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		messages = append(append(messages, existing...), user, assistant)
		providerMessages = append(append(providerMessages, existing...), user)
	}

	c.publishTurnStart(gen, req.Chat, req.ProviderInstanceID, effectiveModel, messages, assistant.ID, now)

	t := &turn{
		gen:              gen,
		model:            lm,
		assistantID:      assistant.ID,
		instanceID:       req.ProviderInstanceID,
		modelID:          effectiveModel,
		webSearch:        req.WebSearch,
		contextSize:      req.WebSearchContextSize,
		providerMessages: providerMessages,
		estimateMessages: messages,
		contextMessages:  ContextFromMessages(messages),
	}
	c.run(ctx, t)
	return c.State(), nil
}

// Regenerate streams a new assistant message from the existing history
// without adding a user message.
func (c *Controller) Regenerate(ctx context.Context, req RegenerateRequest) (State, error) {
	if req.Chat.ID == "" || len(req.Chat.Messages) == 0 {
		return c.State(), nil
	}
	gen, ok := c.begin()
	if !ok {
		return c.State(), nil
	}

	lm, effectiveModel, err := c.buildModel(req.ProviderInstanceID, req.ModelID, req.WebSearch)
	if err != nil {
		c.release(gen)
		return c.State(), err
	}

	now := c.deps.Now()
	assistant := c.newAssistant(req.ProviderInstanceID, effectiveModel, req.WebSearch, req.WebSearchContextSize, now)
	messages := append(append([]chat.Message(nil), req.Chat.Messages...), assistant)
	providerMessages := append(c.systemMessages(), req.Chat.Messages...)

	c.publishTurnStart(gen, req.Chat, req.ProviderInstanceID, effectiveModel, messages, assistant.ID, now)

	t := &turn{
		gen:              gen,
		model:            lm,
		assistantID:      assistant.ID,
		instanceID:       req.ProviderInstanceID,
		modelID:          effectiveModel,
		webSearch:        req.WebSearch,
		contextSize:      req.WebSearchContextSize,
		providerMessages: providerMessages,
		estimateMessages: messages,
		contextMessages:  ContextFromMessages(messages),
		registerEarly:    true,
	}
	c.run(ctx, t)
	return c.State(), nil
}

// publishTurnStart writes the chat with the new placeholder messages to the
// store, pushes it to sync, and marks the assistant message as streaming.
func (c *Controller) publishTurnStart(gen uint64, active chat.Chat, instanceID, model string, messages []chat.Message, assistantID string, now time.Time) {
	updated := active
	if updated.ProviderInstanceID == "" {
		updated.ProviderInstanceID = instanceID
	}
	updated.Model = model
	updated.Messages = messages
	updated.UpdatedAt = now

	c.deps.Chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, c.chatID, func(chat.Chat) chat.Chat { return updated })
	})
	c.syncThread(updated)
	c.setStreaming(gen, assistantID)
}

func (c *Controller) run(ctx context.Context, t *turn) {
	defer c.release(t.gen)

	log := c.logger.With("message_id", t.assistantID, "model", t.modelID)

	if t.registerEarly && c.deps.States != nil {
		c.deps.States.StartStream(c.chatID, t.assistantID, t.contextMessages)
	}

	t.metrics = chat.StreamMetrics{StartTime: c.deps.Now().UnixMilli()}
	t.metrics.PromptTokens = EstimatePromptTokens(t.estimateMessages, t.model)
	t.metrics.TotalTokens = t.metrics.PromptTokens

	tctx, stop := c.turnContext(ctx, t.gen)
	defer stop()

	reader, err := t.model.Stream(tctx, t.providerMessages, provider.StreamOptions{WebSearch: c.webSearchOptions(t)})
	if err != nil {
		if cancelledByUser(ctx, tctx) {
			log.Info("stream cancelled while opening")
			c.finalize(t, "", "")
			return
		}
		log.Warn("failed to open stream", "error", err)
		c.handleStreamError(t, err, "")
		return
	}
	if cancelledByUser(ctx, tctx) {
		reader.Cancel()
		c.finalize(t, "", "")
		return
	}
	c.setReader(t.gen, reader)

	if !t.registerEarly && c.deps.States != nil {
		c.deps.States.StartStream(c.chatID, t.assistantID, t.contextMessages)
	}
	log.Debug("stream started", "prompt_tokens", t.metrics.PromptTokens)

	res, err := NewProcessor(c.chatID, t.assistantID, c.deps.States, c.updateMessage).Process(reader, "")
	if err != nil && cancelledByUser(ctx, tctx) {
		err = nil
	}
	if err != nil {
		log.Warn("stream failed", "error", err)
		c.handleStreamError(t, err, "")
		return
	}

	t.metrics.ThinkingTime = res.ThinkingTime
	c.finalize(t, res.Content, res.Reasoning)
}

// finalize writes the finished content and metrics onto the assistant
// message.
func (c *Controller) finalize(t *turn, content, reasoning string) {
	if c.deps.States != nil {
		c.deps.States.EndStreamFor(c.chatID, t.assistantID)
	}
	c.settle(t.gen)

	now := c.deps.Now()
	final := CalculateStreamMetrics(t.metrics.StartTime, t.model.CompletionTokenCount(), t.metrics.PromptTokens, t.metrics.ThinkingTime, now)

	updated := c.updateChat(func(ch chat.Chat) chat.Chat {
		ch = ch.WithMessage(t.assistantID, func(m chat.Message) chat.Message {
			m.Content = content
			m.Reasoning = reasoning
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
	c.logger.Debug("stream finished", "message_id", t.assistantID, "completion_tokens", final.CompletionTokens, "total_time_ms", final.TotalTime)
}

// handleStreamError records err on the assistant message. Content already
// streamed is kept; fallback is used only when there is none.
func (c *Controller) handleStreamError(t *turn, err error, fallback string) {
	c.mu.Lock()
	if c.generation == t.gen {
		c.reader = nil
		c.stop = nil
	}
	c.mu.Unlock()

	details := classifyError(err, t.model.ID())
	now := c.deps.Now()
	final := CalculateStreamMetrics(t.metrics.StartTime, t.metrics.CompletionTokens, t.metrics.PromptTokens, t.metrics.ThinkingTime, now)

	updated := c.updateChat(func(ch chat.Chat) chat.Chat {
		ch = ch.WithMessage(t.assistantID, func(m chat.Message) chat.Message {
			if m.Content == "" {
				m.Content = fallback
			}
			m.Error = details
			m.UpdatedAt = now
			m.Usage = &chat.Usage{
				PromptTokens:     t.metrics.PromptTokens,
				CompletionTokens: t.metrics.CompletionTokens,
				TotalTokens:      t.metrics.TotalTokens,
			}
			metrics := final
			m.Metrics = &metrics
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

// =============================================================================
// HELPERS
// =============================================================================

func (c *Controller) updateMessage(messageID string, fn func(chat.Message) chat.Message) {
	c.deps.Chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, c.chatID, func(ch chat.Chat) chat.Chat {
			return ch.WithMessage(messageID, fn)
		})
	})
}

// updateChat applies fn to this controller's chat and returns the result,
// or nil when the chat is no longer in the store.
func (c *Controller) updateChat(fn func(chat.Chat) chat.Chat) *chat.Chat {
	var out *chat.Chat
	c.deps.Chats.Update(func(all []chat.Chat) []chat.Chat {
		return chat.UpdateChat(all, c.chatID, func(ch chat.Chat) chat.Chat {
			updated := fn(ch)
			out = &updated
			return updated
		})
	})
	return out
}

func (c *Controller) syncThread(ch chat.Chat) {
	if c.deps.Sync != nil {
		c.deps.Sync.SyncThread(ch)
	}
}

func (c *Controller) instance(id string) (chat.ProviderInstance, error) {
	inst, ok := c.deps.Instances()[id]
	if !ok {
		return chat.ProviderInstance{}, fmt.Errorf("Provider instance not found: %s", id)
	}
	return inst, nil
}

// effectiveModel substitutes the web search redirect model when web search
// is requested and the cached metadata declares one.
func (c *Controller) effectiveModel(instanceID, modelID string, webSearch bool) string {
	if !webSearch || c.deps.Models == nil {
		return modelID
	}
	if m, ok := c.deps.Models.Find(instanceID, modelID); ok && m.WebSearchModelRedirect != "" {
		return m.WebSearchModelRedirect
	}
	return modelID
}

func (c *Controller) buildModel(instanceID, modelID string, webSearch bool) (provider.LanguageModel, string, error) {
	inst, err := c.instance(instanceID)
	if err != nil {
		return nil, "", err
	}
	effective := c.effectiveModel(instanceID, modelID, webSearch)
	lm, err := c.deps.Registry.ForInstance(inst, effective)
	if err != nil {
		return nil, "", err
	}
	return lm, effective, nil
}

func (c *Controller) supportsWebSearch(instanceID, modelID string) bool {
	if _, ok := c.deps.Instances()[instanceID]; !ok || c.deps.Models == nil {
		return false
	}
	m, ok := c.deps.Models.Find(instanceID, modelID)
	return ok && (m.SupportsWebSearch || m.WebSearchModelRedirect != "")
}

func (c *Controller) webSearchOptions(t *turn) *provider.WebSearchOptions {
	if !t.webSearch || !c.supportsWebSearch(t.instanceID, t.modelID) {
		return nil
	}
	size := t.contextSize
	if size == "" {
		size = chat.SearchContextLow
	}
	return &provider.WebSearchOptions{Enabled: true, SearchContextSize: size}
}

func (c *Controller) systemMessages() []chat.Message {
	prompt := c.deps.Settings().SystemPrompt
	if prompt == "" {
		return nil
	}
	return []chat.Message{{Role: chat.RoleSystem, Content: prompt}}
}

func (c *Controller) newAssistant(instanceID, model string, webSearch bool, contextSize string, now time.Time) chat.Message {
	m := chat.Message{
		ID:                   c.deps.NewID(),
		Role:                 chat.RoleAssistant,
		ProviderInstanceID:   instanceID,
		Model:                model,
		WebSearchContextSize: contextSize,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if webSearch {
		ws := true
		m.WebSearchEnabled = &ws
	}
	return m
}
