// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// boolFlags never take a value, so "--web-search hello" keeps "hello"
// positional.
var boolFlags = map[string]bool{
	"web-search": true,
	"temporary":  true,
	"json":       true,
	"offline":    true,
	"verbose":    true,
	"v":          true,
	"quiet":      true,
	"q":          true,
	"refresh":    true,
	"help":       true,
	"h":          true,
	"no-stdin":   true,
	"reasoning":  true,
	"open":       true,
	"force":      true,
}

// ArgParser splits raw arguments into flags and positionals. It accepts
// --flag value, --flag=value and -f value; names in boolFlags are
// switches.
type ArgParser struct {
	flags      map[string]string
	bools      map[string]bool
	positional []string
	raw        []string
}

// NewArgParser parses raw. Everything after a bare "--" is positional.
func NewArgParser(raw []string) *ArgParser {
	p := &ArgParser{
		flags: make(map[string]string),
		bools: make(map[string]bool),
		raw:   raw,
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			if b, err := strconv.ParseBool(v); err == nil && boolFlags[k] {
				p.bools[k] = b
			} else {
				p.flags[k] = v
			}
			continue
		}
		if boolFlags[name] {
			p.bools[name] = true
			continue
		}
		if i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
			continue
		}
		p.bools[name] = true
	}
	return p
}

// Flag returns the first of names that was given a value.
func (p *ArgParser) Flag(names ...string) string {
	for _, n := range names {
		if v, ok := p.flags[n]; ok {
			return v
		}
	}
	return ""
}

// FlagOrDefault returns Flag(name) or def when it is unset.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// BoolFlag reports whether any of names was set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, n := range names {
		if p.bools[n] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments from index on.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// PositionalCount is the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// Options returns every valued flag.
func (p *ArgParser) Options() map[string]string {
	out := make(map[string]string, len(p.flags))
	for k, v := range p.flags {
		out[k] = v
	}
	return out
}
