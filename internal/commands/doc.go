// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system for the chat REPL.
//
// # Key Types
//
//   - Command: name, aliases, argument definitions and handler
//   - Registry: commands by name and alias, grouped for help
//   - Parser: splits "/open 'my chat'" into a command and arguments
//   - Completer: tab completion for command names and arguments
//
// # Usage
//
//	reg := commands.NewRegistry()
//	reg.Register(&commands.Command{Name: "/new", Handler: newChat})
//	res := commands.NewParser(reg).Parse(input)
//	if res.IsCommand {
//	    err := reg.Run(ctx, res)
//	}
package commands
