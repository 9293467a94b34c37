// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/storage"
)

const stateKeyPrefix = "streamState."

// persistTimeout bounds each durable write of stream progress.
const persistTimeout = 5 * time.Second

// =============================================================================
// TYPES
// =============================================================================

// ContextMessage is a message as it stood when a stream started. Resume
// replays these to the provider.
type ContextMessage struct {
	ID                 string              `json:"id"`
	Role               chat.Role           `json:"role"`
	Content            string              `json:"content"`
	ProviderInstanceID string              `json:"providerInstanceId,omitempty"`
	Model              string              `json:"model,omitempty"`
	Usage              *chat.Usage         `json:"usage,omitempty"`
	Metrics            *chat.StreamMetrics `json:"metrics,omitempty"`
	Reasoning          string              `json:"reasoning,omitempty"`
	AttachmentIDs      []string            `json:"attachmentIds,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// ContextFromMessages snapshots msgs.
func ContextFromMessages(msgs []chat.Message) []ContextMessage {
	out := make([]ContextMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ContextMessage{
			ID:                 m.ID,
			Role:               m.Role,
			Content:            m.Content,
			ProviderInstanceID: m.ProviderInstanceID,
			Model:              m.Model,
			Usage:              m.Usage,
			Metrics:            m.Metrics,
			Reasoning:          m.Reasoning,
			AttachmentIDs:      m.AttachmentIDs(),
			CreatedAt:          m.CreatedAt,
			UpdatedAt:          m.UpdatedAt,
		}
	}
	return out
}

// Message converts the snapshot back into a message without attachments.
func (cm ContextMessage) Message() chat.Message {
	return chat.Message{
		ID:                 cm.ID,
		Role:               cm.Role,
		Content:            cm.Content,
		Reasoning:          cm.Reasoning,
		ProviderInstanceID: cm.ProviderInstanceID,
		Model:              cm.Model,
		Usage:              cm.Usage,
		Metrics:            cm.Metrics,
		CreatedAt:          cm.CreatedAt,
		UpdatedAt:          cm.UpdatedAt,
	}
}

// StreamState is the durable record of one in-flight turn.
type StreamState struct {
	ChatID           string           `json:"chatId"`
	MessageID        string           `json:"messageId"`
	IsStreaming      bool             `json:"isStreaming"`
	StartTime        int64            `json:"startTime"` // unix ms
	PartialContent   string           `json:"partialContent"`
	PartialReasoning string           `json:"partialReasoning"`
	ContextMessages  []ContextMessage `json:"contextMessages"`
}

// =============================================================================
// STATE STORE
// =============================================================================

// StateStore tracks in-flight streams by chat id. Every transition is
// written through to the KV store before the call returns.
type StateStore struct {
	kv     storage.KV
	logger *slog.Logger
	now    func() time.Time
	states *chat.Store[map[string]StreamState]
}

// NewStateStore returns an empty store over kv.
func NewStateStore(kv storage.KV, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{
		kv:     kv,
		logger: logger.With("component", "stream-state"),
		now:    time.Now,
		states: chat.NewStore(map[string]StreamState{}),
	}
}

// LoadStateStore rebuilds the store from kv. Records that do not decode are
// deleted and skipped.
func LoadStateStore(ctx context.Context, kv storage.KV, logger *slog.Logger) (*StateStore, error) {
	s := NewStateStore(kv, logger)

	records, err := kv.List(ctx, storage.NSStreamStates)
	if err != nil {
		return nil, err
	}

	loaded := make(map[string]StreamState, len(records))
	for _, rec := range records {
		var st StreamState
		if err := json.Unmarshal(rec.Value, &st); err != nil || st.ChatID == "" {
			s.logger.Debug("dropping unreadable stream state", "key", rec.Key)
			if delErr := kv.Delete(ctx, storage.NSStreamStates, rec.Key); delErr != nil {
				s.logger.Warn("failed to delete stream state", "key", rec.Key, "error", delErr)
			}
			continue
		}
		if st.ContextMessages == nil {
			st.ContextMessages = []ContextMessage{}
		}
		loaded[st.ChatID] = st
	}
	s.states.Set(loaded)
	return s, nil
}

// Subscribe registers fn for every change of the state map.
func (s *StateStore) Subscribe(fn func(map[string]StreamState)) func() {
	return s.states.Subscribe(fn)
}

// StartStream creates or overwrites the entry for chatID.
func (s *StateStore) StartStream(chatID, messageID string, contextMessages []ContextMessage) {
	if contextMessages == nil {
		contextMessages = []ContextMessage{}
	}
	st := StreamState{
		ChatID:          chatID,
		MessageID:       messageID,
		IsStreaming:     true,
		StartTime:       s.now().UnixMilli(),
		ContextMessages: contextMessages,
	}
	s.states.Update(func(m map[string]StreamState) map[string]StreamState {
		return withState(m, chatID, st)
	})
	s.persist(st)
}

// UpdateContent replaces the partial content with the full accumulated
// text. No-op when no stream is recorded for chatID.
func (s *StateStore) UpdateContent(chatID, content string) {
	s.mutate(chatID, "", func(st StreamState) StreamState {
		st.PartialContent = content
		return st
	})
}

// UpdateReasoning replaces the partial reasoning.
func (s *StateStore) UpdateReasoning(chatID, reasoning string) {
	s.mutate(chatID, "", func(st StreamState) StreamState {
		st.PartialReasoning = reasoning
		return st
	})
}

// mutate applies fn to the entry for chatID. A non-empty messageID limits
// the change to the stream of that message.
func (s *StateStore) mutate(chatID, messageID string, fn func(StreamState) StreamState) {
	var (
		updated StreamState
		found   bool
	)
	s.states.Update(func(m map[string]StreamState) map[string]StreamState {
		st, ok := m[chatID]
		if !ok || (messageID != "" && st.MessageID != messageID) {
			return m
		}
		found = true
		updated = fn(st)
		return withState(m, chatID, updated)
	})
	if found {
		s.persist(updated)
	}
}

// EndStream removes the entry for chatID and its durable record.
func (s *StateStore) EndStream(chatID string) {
	s.end(chatID, "")
}

// EndStreamFor is EndStream limited to the stream of messageID. A turn
// that finishes after a newer one started leaves the newer record alone.
func (s *StateStore) EndStreamFor(chatID, messageID string) {
	s.end(chatID, messageID)
}

func (s *StateStore) end(chatID, messageID string) {
	var (
		ended StreamState
		found bool
	)
	s.states.Update(func(m map[string]StreamState) map[string]StreamState {
		st, ok := m[chatID]
		if !ok || (messageID != "" && st.MessageID != messageID) {
			return m
		}
		ended, found = st, true
		out := make(map[string]StreamState, len(m))
		for k, v := range m {
			if k != chatID {
				out[k] = v
			}
		}
		return out
	})
	if !found {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.kv.Delete(ctx, storage.NSStreamStates, stateKeyPrefix+ended.MessageID); err != nil {
		s.logger.Error("failed to delete stream state", "chat_id", chatID, "message_id", ended.MessageID, "error", err)
	}
}

// IsMessageStreaming reports whether messageID is the live stream of chatID.
func (s *StateStore) IsMessageStreaming(chatID, messageID string) bool {
	st, ok := s.State(chatID)
	return ok && st.MessageID == messageID && st.IsStreaming
}

// State returns the entry for chatID.
func (s *StateStore) State(chatID string) (StreamState, bool) {
	st, ok := s.states.Get()[chatID]
	return st, ok
}

// PartialContent returns the accumulated content, if any.
func (s *StateStore) PartialContent(chatID string) (string, bool) {
	st, ok := s.State(chatID)
	if !ok || st.PartialContent == "" {
		return "", false
	}
	return st.PartialContent, true
}

// PartialReasoning returns the accumulated reasoning, if any.
func (s *StateStore) PartialReasoning(chatID string) (string, bool) {
	st, ok := s.State(chatID)
	if !ok || st.PartialReasoning == "" {
		return "", false
	}
	return st.PartialReasoning, true
}

// ContextMessages returns the snapshot taken when the stream started.
func (s *StateStore) ContextMessages(chatID string) ([]ContextMessage, bool) {
	st, ok := s.State(chatID)
	if !ok {
		return nil, false
	}
	return st.ContextMessages, true
}

// Active returns every recorded stream.
func (s *StateStore) Active() []StreamState {
	m := s.states.Get()
	out := make([]StreamState, 0, len(m))
	for _, st := range m {
		out = append(out, st)
	}
	return out
}

func (s *StateStore) persist(st StreamState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := storage.PutJSON(ctx, s.kv, storage.NSStreamStates, stateKeyPrefix+st.MessageID, st.ChatID, st); err != nil {
		s.logger.Error("failed to persist stream state", "chat_id", st.ChatID, "message_id", st.MessageID, "error", err)
	}
}

func withState(m map[string]StreamState, chatID string, st StreamState) map[string]StreamState {
	out := make(map[string]StreamState, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[chatID] = st
	return out
}
