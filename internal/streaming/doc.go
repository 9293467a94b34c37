// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package streaming drives one assistant turn from a language model into
// the conversation store.
//
// The Controller builds the provider request, opens the stream and hands
// the reader to a Processor, which classifies every chunk as content,
// reasoning, or an out-of-band attachment and applies it to the assistant
// message. The StateStore records partial output durably under the chat id
// so an interrupted turn can be resumed after a restart.
//
// A Controller runs at most one turn at a time; a second request while a
// turn is in flight is ignored.
package streaming
