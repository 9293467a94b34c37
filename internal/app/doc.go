// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app builds the running client: storage, the chat and settings
// stores, providers, the streaming controllers, and the sync engine, all
// wired to each other. Nothing in the module is a package-level singleton;
// commands receive an *App.
package app
