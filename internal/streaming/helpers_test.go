// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/logging"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// FAKE MODEL
// =============================================================================

// fakeModel hands out readers produced by next and records every request.
type fakeModel struct {
	mu         sync.Mutex
	model      string
	next       func() provider.ChunkReader
	openErr    error
	hangOpen   bool // Stream blocks until its context is cancelled
	completion int
	requests   [][]chat.Message
	options    []provider.StreamOptions
}

func (f *fakeModel) ID() string           { return "fake" }
func (f *fakeModel) ProviderName() string { return "Fake" }
func (f *fakeModel) ModelName() string    { return f.model }

func (f *fakeModel) CompletionTokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completion
}

func (f *fakeModel) AvailableModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (f *fakeModel) Stream(ctx context.Context, msgs []chat.Message, opts provider.StreamOptions) (provider.ChunkReader, error) {
	f.mu.Lock()
	f.requests = append(f.requests, msgs)
	f.options = append(f.options, opts)
	if f.hangOpen {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.next(), nil
}

func (f *fakeModel) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// chanReader blocks until a chunk is pushed, the channel is closed, or it
// is cancelled.
type chanReader struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

func newChanReader() *chanReader {
	return &chanReader{ch: make(chan string), done: make(chan struct{})}
}

func (r *chanReader) Recv() (string, error) {
	select {
	case c, ok := <-r.ch:
		if !ok {
			return "", io.EOF
		}
		return c, nil
	case <-r.done:
		return "", io.EOF
	}
}

func (r *chanReader) Cancel() { r.once.Do(func() { close(r.done) }) }

// lingeringReader ignores Cancel and reports EOF only once release is
// closed, like a connection that takes a while to wind down.
type lingeringReader struct {
	release chan struct{}
}

func (r *lingeringReader) Recv() (string, error) {
	<-r.release
	return "", io.EOF
}

func (r *lingeringReader) Cancel() {}

type recordingSyncer struct {
	mu    sync.Mutex
	chats []chat.Chat
}

func (s *recordingSyncer) SyncThread(c chat.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, c)
}

func (s *recordingSyncer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

type modelTable map[string]provider.ModelInfo

func (m modelTable) Find(instanceID, modelID string) (provider.ModelInfo, bool) {
	info, ok := m[instanceID+"/"+modelID]
	return info, ok
}

// =============================================================================
// HARNESS
// =============================================================================

const testChatID = "chat-1"

type harness struct {
	ctrl     *Controller
	chats    *chat.Store[[]chat.Chat]
	states   *StateStore
	kv       *storage.MemoryStore
	model    *fakeModel
	syncer   *recordingSyncer
	settings chat.AdvancedSettings
	models   modelTable
}

func newHarness(t *testing.T, initial chat.Chat) *harness {
	t.Helper()
	h := &harness{
		kv:     storage.NewMemoryStore(),
		model:  &fakeModel{},
		syncer: &recordingSyncer{},
		models: modelTable{},
	}
	if initial.ID == "" {
		initial.ID = testChatID
	}
	h.chats = chat.NewStore([]chat.Chat{initial})
	h.states = NewStateStore(h.kv, logging.Discard())

	reg := provider.NewRegistry(provider.Options{})
	reg.Register("fake", func(cfg chat.ProviderInstanceConfig, _ provider.Options) (provider.LanguageModel, error) {
		h.model.mu.Lock()
		h.model.model = cfg.Model
		h.model.mu.Unlock()
		return h.model, nil
	})

	n := 0
	h.ctrl = NewController(initial.ID, Deps{
		Chats:    h.chats,
		Registry: reg,
		Instances: func() chat.ProviderInstances {
			return chat.ProviderInstances{
				"inst-1": {ID: "inst-1", Name: "Test", ProviderType: "fake", Config: chat.ProviderInstanceConfig{Model: "m1"}},
			}
		},
		Settings: func() chat.AdvancedSettings { return h.settings },
		Models:   h.models,
		States:   h.states,
		Sync:     h.syncer,
		Logger:   logging.Discard(),
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	return h
}

func (h *harness) chat(t *testing.T) chat.Chat {
	t.Helper()
	c, ok := chat.FindChat(h.chats.Get(), h.ctrl.ChatID())
	if !ok {
		t.Fatalf("chat %s missing from store", h.ctrl.ChatID())
	}
	return c
}

func (h *harness) slice(chunks ...string) *provider.SliceReader {
	r := provider.NewSliceReader(chunks...)
	h.model.next = func() provider.ChunkReader { return r }
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
