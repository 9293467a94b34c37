// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/util"
)

// ExportVersion identifies the export file layout.
const ExportVersion = 1

// Export is a portable dump of every persisted chat.
type Export struct {
	Version    int         `json:"version"`
	ExportedAt time.Time   `json:"exportedAt"`
	Chats      []chat.Chat `json:"chats"`
}

// ExportAll collects every chat.
func (r *ChatRepository) ExportAll(ctx context.Context) (*Export, error) {
	chats, err := r.LoadChats(ctx)
	if err != nil {
		return nil, err
	}
	return &Export{Version: ExportVersion, ExportedAt: time.Now().UTC(), Chats: chats}, nil
}

// ExportToFile writes ExportAll to path.
// SECURITY: Export contains full message content; written 0600.
func (r *ChatRepository) ExportToFile(ctx context.Context, path string) (int, error) {
	exp, err := r.ExportAll(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return 0, err
	}
	return len(exp.Chats), nil
}

// ImportFromFile reads an export and saves every chat in it, replacing
// chats with the same id. Returns the imported chats.
func (r *ChatRepository) ImportFromFile(ctx context.Context, path string) ([]chat.Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if exp.Version != ExportVersion {
		return nil, fmt.Errorf("unsupported export version %d", exp.Version)
	}
	for _, c := range exp.Chats {
		c.IsTemporary = false
		if err := r.SaveChat(ctx, c); err != nil {
			return nil, fmt.Errorf("import chat %s: %w", c.ID, err)
		}
	}
	return exp.Chats, nil
}
