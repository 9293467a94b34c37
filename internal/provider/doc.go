// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider connects rigchat to language model backends.
//
// A provider instance is a user-configured endpoint (API key, base URL,
// default model). The registry turns an instance into a LanguageModel, which
// streams text chunks through a ChunkReader. Reasoning output is carried
// in-band: a chunk starting with ReasoningPrefix belongs to the model's
// reasoning channel rather than the visible answer.
//
// Known providers (OpenAI, OpenRouter, Anthropic, Google) are detected from
// the base URL or API key prefix and contribute model metadata overrides,
// default-disabled models, and a cheap default title model.
//
// ModelCache keeps each instance's model list on disk with a TTL and
// refreshes it in the background.
package provider
