// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrQuit is returned by a handler to end the REPL.
var ErrQuit = errors.New("quit")

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Handler executes a command. raw is the argument text as typed.
type Handler func(ctx context.Context, args []string, raw string) error

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/open <id>")
	Usage string

	Args []ArgDef

	Handler Handler

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name     string
	Required bool

	// Values are the fixed choices of an enum argument
	Values []string

	// Completer supplies choices that change at runtime (chat ids, models)
	Completer func() []string
}

func (c *Command) requiredArgs() int {
	n := 0
	for _, a := range c.Args {
		if a.Required {
			n++
		}
	}
	return n
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands   map[string]*Command
	aliases    map[string]*Command
	categories []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
}

// Register adds a command to the registry. Names are case-insensitive.
func (r *Registry) Register(cmd *Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[strings.ToLower(alias)] = cmd
	}
	cat := cmd.Category
	if cat == "" {
		cat = "General"
	}
	if !slices.Contains(r.categories, cat) {
		r.categories = append(r.categories, cat)
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	return r.aliases[name]
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	slices.SortFunc(cmds, func(a, b *Command) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// Help renders visible commands by category, in registration order.
func (r *Registry) Help() string {
	groups := r.ByCategory()
	var sb strings.Builder
	for _, cat := range r.categories {
		cmds := groups[cat]
		if len(cmds) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(cat + ":\n")
		for _, cmd := range cmds {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			fmt.Fprintf(&sb, "  %-22s %s\n", usage, cmd.Description)
		}
	}
	return sb.String()
}

// =============================================================================
// EXECUTION
// =============================================================================

// UnknownCommandError names a command that is not registered.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %s (type /help for commands)", e.Name)
}

// Run executes a parsed command after checking its required arguments.
func (r *Registry) Run(ctx context.Context, res ParseResult) error {
	if !res.IsCommand {
		return errors.New("not a command")
	}
	if res.Command == nil {
		return &UnknownCommandError{Name: res.CommandName}
	}
	if len(res.Args) < res.Command.requiredArgs() {
		usage := res.Command.Usage
		if usage == "" {
			usage = res.Command.Name
		}
		return fmt.Errorf("usage: %s", usage)
	}
	if res.Command.Handler == nil {
		return nil
	}
	return res.Command.Handler(ctx, res.Args, res.RawArgs)
}
