// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"slices"
	"strings"
)

// =============================================================================
// COMPLETER
// =============================================================================

// Completer provides tab completion over a registry. Complete matches the
// signature liner.SetCompleter expects.
type Completer struct {
	registry *Registry
}

// NewCompleter creates a completer for registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns full-line candidates for line. Lines that are not
// commands get none.
func (c *Completer) Complete(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}

	name := ExtractCommandName(line)
	if name == strings.TrimRight(line, " ") && !strings.HasSuffix(line, " ") {
		return c.completeCommands(name)
	}

	cmd := c.registry.Get(name)
	if cmd == nil {
		return nil
	}
	rest := strings.TrimLeft(line[len(name):], " ")
	parts := splitCommandLine(rest)
	argIndex := len(parts)
	partial := ""
	if len(parts) > 0 && !strings.HasSuffix(rest, " ") {
		argIndex--
		partial = parts[argIndex]
	}
	if argIndex >= len(cmd.Args) {
		return nil
	}

	prefix := line[:len(line)-len(partial)]
	var out []string
	for _, v := range argValues(cmd.Args[argIndex]) {
		if strings.HasPrefix(strings.ToLower(v), strings.ToLower(partial)) {
			out = append(out, prefix+v)
		}
	}
	return out
}

// completeCommands matches command names, then aliases.
func (c *Completer) completeCommands(partial string) []string {
	partial = strings.ToLower(partial)
	var names, aliases []string
	for _, cmd := range c.registry.All() {
		if cmd.Hidden {
			continue
		}
		if strings.HasPrefix(strings.ToLower(cmd.Name), partial) {
			names = append(names, cmd.Name)
		}
		for _, a := range cmd.Aliases {
			if strings.HasPrefix(strings.ToLower(a), partial) && len(partial) > 1 {
				aliases = append(aliases, a)
			}
		}
	}
	slices.Sort(aliases)
	return append(names, aliases...)
}

func argValues(a ArgDef) []string {
	if a.Completer != nil {
		return a.Completer()
	}
	return a.Values
}
