// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation data model shared by streaming,
// storage and sync, plus the observable Store used for reactive state.
//
// # Key Types
//
//   - Chat, Message, Attachment: in-memory conversation state
//   - Thread: persisted and synced conversation header
//   - Usage, StreamMetrics, ChatError: per-message turn bookkeeping
//   - ProviderInstance, DisabledModels, AdvancedSettings: synced settings
//   - Store[T]: get/set/update/subscribe container
//
// All updates to shared state are whole-value replacements. Helpers such
// as UpdateChat and Chat.WithMessage copy before they change anything, so
// a value handed to a subscriber is never mutated afterwards.
package chat
