// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mention

import (
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// MENTION TYPES
// =============================================================================

// Type indicates the kind of @ mention.
type Type int

const (
	File      Type = iota // @file:path
	Clipboard             // @clipboard
)

func (t Type) String() string {
	switch t {
	case File:
		return "file"
	case Clipboard:
		return "clipboard"
	default:
		return "unknown"
	}
}

// Mention is a parsed @ mention in user input.
type Mention struct {
	Type Type

	// Raw is the original text (e.g., "@file:src/main.go")
	Raw string

	// Path for file mentions
	Path string

	// Start and End are byte offsets in the original input
	Start int
	End   int
}

// =============================================================================
// PARSER
// =============================================================================

var (
	filePattern      = regexp.MustCompile(`@file:(?:"([^"]+)"|'([^']+)'|(\S+))`)
	clipboardPattern = regexp.MustCompile(`@clipboard\b`)
)

// Parse extracts mentions in input order and returns the input with them
// removed and whitespace collapsed.
func Parse(input string) ([]Mention, string) {
	var mentions []Mention

	for _, match := range filePattern.FindAllStringSubmatchIndex(input, -1) {
		var path string
		for i := 2; i+1 < len(match); i += 2 {
			if match[i] != -1 {
				path = input[match[i]:match[i+1]]
				break
			}
		}
		mentions = append(mentions, Mention{Type: File, Raw: input[match[0]:match[1]], Path: path, Start: match[0], End: match[1]})
	}
	for _, match := range clipboardPattern.FindAllStringIndex(input, -1) {
		mentions = append(mentions, Mention{Type: Clipboard, Raw: input[match[0]:match[1]], Start: match[0], End: match[1]})
	}

	sort.Slice(mentions, func(i, j int) bool { return mentions[i].Start < mentions[j].Start })
	return mentions, removeMentions(input, mentions)
}

// HasMentions reports whether input may contain mentions.
func HasMentions(input string) bool {
	return strings.Contains(input, "@file:") || strings.Contains(input, "@clipboard")
}

// removeMentions cuts the mention ranges and collapses spaces within each
// line; newlines are kept.
func removeMentions(input string, mentions []Mention) string {
	if len(mentions) == 0 {
		return input
	}
	var sb strings.Builder
	prev := 0
	for _, m := range mentions {
		sb.WriteString(input[prev:m.Start])
		prev = m.End
	}
	sb.WriteString(input[prev:])

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
