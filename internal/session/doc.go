// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps the on-disk copy of the open chat list current.
//
// # Key Types
//
//   - Saver: watches the chat store and writes dirty chats behind a short
//     delay, so a streamed answer costs a handful of writes instead of one
//     per chunk
//
// # Usage
//
//	saver := session.NewSaver(chats, repo, session.DefaultConfig(), logger)
//	saver.Start()
//	defer saver.Close() // flushes
package session
