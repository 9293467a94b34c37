// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for rigchat.
//
// Everything lives in a namespaced key-value store. Each record may name a
// parent key (a message's thread, an attachment's message) so children can
// be listed and deleted together.
//
// # Key Types
//
//   - KV: namespaced key-value persistence interface
//   - SQLiteStore: durable KV on modernc.org/sqlite
//   - MemoryStore: in-process KV for tests and --ephemeral runs
//   - ChatRepository: threads, messages and attachments on top of a KV
//
// # Usage
//
//	kv, err := storage.OpenSQLite(cfg.Storage.DBPath)
//	repo := storage.NewChatRepository(kv, logger)
//	chats, err := repo.LoadChats(ctx)
//
// # Storage Location
//
// The database defaults to ~/.rigchat/rigchat.db.
package storage
