// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/streaming"
)

var (
	// ErrNoProvider is returned when no provider instance is configured.
	ErrNoProvider = errors.New("no provider instance configured; run 'rigchat provider add'")

	// ErrChatNotFound is returned for an unknown chat id.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNothingToResume is returned when a chat has no interrupted answer.
	ErrNothingToResume = errors.New("no interrupted answer to resume")
)

// Selection is the provider instance and model a turn runs on.
type Selection struct {
	InstanceID string
	ModelID    string
}

// TurnOptions adjust one user turn.
type TurnOptions struct {
	Selection
	WebSearch            bool
	WebSearchContextSize string
	Attachments          []chat.Attachment
}

// =============================================================================
// CHATS
// =============================================================================

// NewChat adds an empty chat to the store and returns it.
func (a *App) NewChat(sel Selection, temporary bool) chat.Chat {
	now := time.Now()
	c := chat.Chat{
		ID:                 chat.NewID(),
		Title:              streaming.DefaultTitle,
		CreatedAt:          now,
		UpdatedAt:          now,
		ProviderInstanceID: sel.InstanceID,
		Model:              sel.ModelID,
		IsTemporary:        temporary,
	}
	a.Chats.Update(func(all []chat.Chat) []chat.Chat { return chat.ReplaceChat(all, c) })
	return c
}

// Chat returns the chat with id.
func (a *App) Chat(id string) (chat.Chat, bool) {
	return chat.FindChat(a.Chats.Get(), id)
}

// FindChat resolves an id, or a unique prefix or suffix of one of at
// least four characters.
func (a *App) FindChat(ref string) (chat.Chat, error) {
	if c, ok := a.Chat(ref); ok {
		return c, nil
	}
	var found []chat.Chat
	if len(ref) >= 4 {
		for _, c := range a.Chats.Get() {
			if strings.HasPrefix(c.ID, ref) || strings.HasSuffix(c.ID, ref) {
				found = append(found, c)
			}
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return chat.Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, ref)
	default:
		return chat.Chat{}, fmt.Errorf("chat id %q is ambiguous", ref)
	}
}

// RecentChats returns saved chats, pinned and most recent first.
func (a *App) RecentChats() []chat.Chat {
	all := a.Chats.Get()
	out := make([]chat.Chat, 0, len(all))
	for _, c := range all {
		if !c.IsTemporary {
			out = append(out, c)
		}
	}
	chat.SortChats(out)
	return out
}

// DeleteChat removes a chat from the store; the saver deletes it on disk.
func (a *App) DeleteChat(id string) {
	a.Chats.Update(func(all []chat.Chat) []chat.Chat { return chat.RemoveChat(all, id) })
	a.mu.Lock()
	delete(a.controllers, id)
	a.mu.Unlock()
}

// ImportChats loads a backup written by ExportChats and merges it into the
// open chats, replacing chats with the same id.
func (a *App) ImportChats(ctx context.Context, path string) ([]chat.Chat, error) {
	imported, err := a.Repo.ImportFromFile(ctx, path)
	if err != nil {
		return nil, err
	}
	a.Chats.Update(func(all []chat.Chat) []chat.Chat {
		for _, c := range imported {
			all = chat.ReplaceChat(all, c)
		}
		return all
	})
	return imported, nil
}

// ExportChats writes every saved chat to path after flushing pending edits.
func (a *App) ExportChats(ctx context.Context, path string) (int, error) {
	if err := a.Saver.Flush(); err != nil {
		return 0, err
	}
	return a.Repo.ExportToFile(ctx, path)
}

// DefaultSelection picks the instance and model for a new chat: the
// configured default instance when it exists, otherwise the first one.
func (a *App) DefaultSelection() (Selection, error) {
	instances := a.Providers.Get()
	list := instances.List()
	if len(list) == 0 {
		return Selection{}, ErrNoProvider
	}
	inst, ok := instances[a.Config.Provider.DefaultInstance]
	if !ok {
		inst = list[0]
	}
	model := inst.Config.Model
	if model == "" {
		model = a.Config.Provider.DefaultModel
	}
	return Selection{InstanceID: inst.ID, ModelID: model}, nil
}

func (a *App) resolve(c chat.Chat, sel Selection) (Selection, error) {
	if sel.InstanceID == "" {
		sel.InstanceID = c.ProviderInstanceID
	}
	if sel.ModelID == "" && sel.InstanceID == c.ProviderInstanceID {
		sel.ModelID = c.Model
	}
	if sel.InstanceID == "" {
		def, err := a.DefaultSelection()
		if err != nil {
			return Selection{}, err
		}
		if sel.ModelID == "" {
			sel.ModelID = def.ModelID
		}
		sel.InstanceID = def.InstanceID
	}
	if sel.ModelID == "" {
		if inst, ok := a.Providers.Get()[sel.InstanceID]; ok {
			sel.ModelID = inst.Config.Model
		}
	}
	return sel, nil
}

// =============================================================================
// TURNS
// =============================================================================

// Controller returns the streaming controller of a chat, creating it on
// first use.
func (a *App) Controller(chatID string) *streaming.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.controllers[chatID]; ok {
		return c
	}
	c := streaming.NewController(chatID, streaming.Deps{
		Chats:     a.Chats,
		Registry:  a.Registry,
		Instances: a.Providers.Get,
		Settings:  a.Advanced.Get,
		Models:    a.Models,
		States:    a.States,
		Sync:      a.ThreadSync,
		Logger:    a.Logger,
	})
	a.controllers[chatID] = c
	return c
}

// Send runs one user turn in chatID and blocks until the answer is final.
// The first exchange of a chat also names it.
func (a *App) Send(ctx context.Context, chatID, input string, opts TurnOptions) error {
	c, ok := a.Chat(chatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if opts.WebSearch {
		if err := a.Offline.CheckWebSearch(); err != nil {
			return err
		}
	}
	sel, err := a.resolve(c, opts.Selection)
	if err != nil {
		return err
	}
	first := len(c.Messages) == 0

	_, err = a.Controller(chatID).Submit(ctx, streaming.SubmitRequest{
		Input:                input,
		Chat:                 c,
		ProviderInstanceID:   sel.InstanceID,
		ModelID:              sel.ModelID,
		Attachments:          opts.Attachments,
		WebSearch:            opts.WebSearch,
		WebSearchContextSize: opts.WebSearchContextSize,
	})
	if err != nil {
		return err
	}
	if first && !c.IsTemporary {
		a.nameChat(ctx, chatID, sel.InstanceID)
	}
	return nil
}

func (a *App) nameChat(ctx context.Context, chatID, instanceID string) {
	if _, ok := a.Titles.Regenerate(ctx, a.Chats, chatID, instanceID); !ok {
		return
	}
	if c, ok := a.Chat(chatID); ok {
		a.ThreadSync.SyncThread(c)
	}
}

// Regenerate replaces the last assistant answer in chatID with a new one.
func (a *App) Regenerate(ctx context.Context, chatID string, opts TurnOptions) error {
	c, ok := a.Chat(chatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if n := len(c.Messages); n > 0 && c.Messages[n-1].Role == chat.RoleAssistant {
		c = c.WithoutMessage(c.Messages[n-1].ID)
	}
	if len(c.Messages) == 0 {
		return nil
	}
	sel, err := a.resolve(c, opts.Selection)
	if err != nil {
		return err
	}
	_, err = a.Controller(chatID).Regenerate(ctx, streaming.RegenerateRequest{
		Chat:                 c,
		ProviderInstanceID:   sel.InstanceID,
		ModelID:              sel.ModelID,
		WebSearch:            opts.WebSearch,
		WebSearchContextSize: opts.WebSearchContextSize,
	})
	return err
}

// Resume continues the interrupted answer recorded for chatID.
func (a *App) Resume(ctx context.Context, chatID string, sel Selection) error {
	c, ok := a.Chat(chatID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	st, ok := a.States.State(chatID)
	if !ok || len(st.ContextMessages) == 0 {
		return ErrNothingToResume
	}
	sel, err := a.resolve(c, sel)
	if err != nil {
		return err
	}
	_, err = a.Controller(chatID).Resume(ctx, streaming.ResumeFromState(st, c, sel.InstanceID, sel.ModelID))
	return err
}

// Cancel stops the running turn of chatID, keeping what was received.
func (a *App) Cancel(chatID string) {
	a.mu.Lock()
	c, ok := a.controllers[chatID]
	a.mu.Unlock()
	if ok {
		c.Cancel()
	}
}

// Interrupted lists chats whose last stream never finished, for example
// because the process exited mid-answer.
func (a *App) Interrupted() []streaming.StreamState {
	var out []streaming.StreamState
	for _, st := range a.States.Active() {
		if _, ok := a.Chat(st.ChatID); ok {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	return out
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels returns the models of an instance, from the cache when it is
// fresh.
func (a *App) ListModels(ctx context.Context, instanceID string, refresh bool) ([]provider.ModelInfo, error) {
	inst, ok := a.Providers.Get()[instanceID]
	if !ok {
		return nil, fmt.Errorf("Provider instance not found: %s", instanceID)
	}
	if !refresh {
		if models, ok := a.Models.Models(instanceID); ok {
			return models, nil
		}
	}
	if err := a.Models.SyncInstance(ctx, inst, a.Registry); err != nil {
		return nil, err
	}
	models, _ := a.Models.Models(instanceID)
	return models, nil
}
