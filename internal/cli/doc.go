// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigchat command line: argument parsing, the
// interactive chat REPL, one-shot questions, and the sync, provider,
// config and export subcommands.
//
// # Commands
//
//	rigchat chat [--provider ID] [--model ID] [--web-search] [--chat ID]
//	rigchat ask "question"
//	rigchat sync wallet|login|logout|status|pull|push|now
//	rigchat provider add|list|remove|models
//	rigchat config show|get|set|path|init
//	rigchat export FILE / rigchat import FILE
//	rigchat version / rigchat help
//
// Output is styled with lipgloss when stdout is a terminal and plain
// otherwise; NO_COLOR and FORCE_COLOR are honoured.
package cli
