// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigchat.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// Text:
//   - Words, WordCount: whitespace tokenization used by token heuristics
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth: display-width aware helpers for terminal tables
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	n := util.WordCount("hello there") // 2
package util
