// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncer keeps local conversations and settings in step with the
// sync server.
//
// Manager owns authentication, the per-field encryption envelope and the
// periodic changes-since poll. AutoSync pushes settings edits, ThreadSync
// pushes conversation edits, and Applier writes inbound changes to the
// local stores. A LoopGuard shared between them keeps a value that just
// arrived from the server from being pushed straight back.
package syncer
