// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a single chat as a readable document.
//
// # Supported Formats
//
//   - Markdown: front matter, one section per message, stats footers
//   - HTML: self-contained page with embedded CSS and code blocks
//
// Machine-readable backups of every chat live in the storage package
// (storage.ChatRepository.ExportToFile); this package is for sharing.
//
// # Usage
//
//	ex, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ToFile(c, ex, "")
package export
