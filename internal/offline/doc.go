// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline implements the local-only mode.
//
// While the mode is on, provider endpoints and the sync server are only
// reachable on loopback hosts, and web search is refused. A local model
// server such as Ollama keeps working; hosted APIs do not.
//
// # Usage
//
//	mode := offline.New(cfg.General.Offline)
//	if err := mode.CheckURL(baseURL); err != nil {
//		return err
//	}
//
// A nil *Mode behaves as "online" so components can take one optionally.
package offline
