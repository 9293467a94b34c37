// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/storage"
)

// Config holds configuration for the saver.
type Config struct {
	// AutoSaveDelay is how long a change waits before it is written
	// (default: 1 second)
	AutoSaveDelay time.Duration

	// SaveTimeout bounds one flush (default: 10 seconds)
	SaveTimeout time.Duration
}

// DefaultConfig returns the default saver configuration.
func DefaultConfig() Config {
	return Config{
		AutoSaveDelay: time.Second,
		SaveTimeout:   10 * time.Second,
	}
}

// =============================================================================
// SAVER
// =============================================================================

// Saver writes changed chats to the repository. Temporary chats are never
// written; a chat that disappears from the store is deleted.
type Saver struct {
	chats  *chat.Store[[]chat.Chat]
	repo   *storage.ChatRepository
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	known   map[string]chat.Chat
	dirty   map[string]bool
	removed map[string]bool
	timer   *time.Timer
	unsub   func()
	lastErr error

	flushMu sync.Mutex
}

// NewSaver returns a saver for chats. Zero config fields take defaults.
func NewSaver(chats *chat.Store[[]chat.Chat], repo *storage.ChatRepository, cfg Config, logger *slog.Logger) *Saver {
	def := DefaultConfig()
	if cfg.AutoSaveDelay <= 0 {
		cfg.AutoSaveDelay = def.AutoSaveDelay
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Saver{
		chats:   chats,
		repo:    repo,
		cfg:     cfg,
		logger:  logger.With("component", "session"),
		known:   make(map[string]chat.Chat),
		dirty:   make(map[string]bool),
		removed: make(map[string]bool),
	}
}

// Start treats the current chat list as saved and begins watching.
func (s *Saver) Start() {
	s.mu.Lock()
	if s.unsub != nil {
		s.mu.Unlock()
		return
	}
	for _, c := range s.chats.Get() {
		s.known[c.ID] = c
	}
	s.mu.Unlock()

	unsub := s.chats.Subscribe(s.onChats)
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
}

// Close stops watching and writes whatever is still dirty.
func (s *Saver) Close() error {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return s.Flush()
}

// IsDirty reports whether changes are waiting to be written.
func (s *Saver) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) > 0 || len(s.removed) > 0
}

// LastError returns the error of the most recent failed write, if any.
func (s *Saver) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Saver) onChats(current []chat.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.ID] = true
		if c.IsTemporary {
			continue
		}
		if prev, ok := s.known[c.ID]; ok && reflect.DeepEqual(prev, c) {
			continue
		}
		s.known[c.ID] = c
		s.dirty[c.ID] = true
		delete(s.removed, c.ID)
	}
	for id, c := range s.known {
		if seen[id] {
			continue
		}
		delete(s.known, id)
		delete(s.dirty, id)
		if !c.IsTemporary {
			s.removed[id] = true
		}
	}

	if (len(s.dirty) > 0 || len(s.removed) > 0) && s.timer == nil && s.unsub != nil {
		s.timer = time.AfterFunc(s.cfg.AutoSaveDelay, s.autoSave)
	}
}

func (s *Saver) autoSave() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()
	if err := s.Flush(); err != nil {
		s.logger.Error("auto-save failed", "error", err)
	}
}

// Flush writes every dirty chat and deletes removed ones now. Chats that
// fail to save stay dirty.
func (s *Saver) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	save := make([]chat.Chat, 0, len(s.dirty))
	for id := range s.dirty {
		save = append(save, s.known[id])
	}
	remove := make([]string, 0, len(s.removed))
	for id := range s.removed {
		remove = append(remove, id)
	}
	s.dirty = make(map[string]bool)
	s.removed = make(map[string]bool)
	s.mu.Unlock()

	if len(save) == 0 && len(remove) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()

	var firstErr error
	for _, c := range save {
		if err := s.repo.SaveChat(ctx, c); err != nil {
			s.logger.Error("failed to save chat", "chat_id", c.ID, "error", err)
			s.markDirty(c.ID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, id := range remove {
		if err := s.repo.DeleteThread(ctx, id); err != nil {
			s.logger.Error("failed to delete chat", "chat_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.mu.Lock()
	s.lastErr = firstErr
	s.mu.Unlock()
	return firstErr
}

func (s *Saver) markDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[id]; ok {
		s.dirty[id] = true
	}
}
