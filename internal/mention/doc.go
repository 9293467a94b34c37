// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mention turns @ mentions in user input into message attachments.
//
// # Supported Mentions
//
//   - @file:path, @file:"path with spaces": the file becomes an attachment
//   - @clipboard: the clipboard text becomes a clipboard.txt attachment
//
// # Usage
//
//	r := mention.NewResolver(mention.DefaultConfig())
//	text, attachments, err := r.Resolve(ctx, input)
package mention
