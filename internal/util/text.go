// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Words splits s on runs of whitespace. Leading and trailing whitespace
// produce no empty words.
func Words(s string) []string {
	return strings.Fields(s)
}

// WordCount returns len(Words(s)).
func WordCount(s string) int {
	return len(strings.Fields(s))
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SplitCount returns the number of pieces produced by splitting s on runs of
// whitespace, keeping the empty pieces at either end. An empty string is one
// piece. Token estimates are calibrated against this count rather than
// WordCount.
func SplitCount(s string) int {
	return len(whitespaceRun.Split(s, -1))
}

// TruncateRunes truncates s to at most maxRunes characters, replacing the
// tail with "..." when it had to cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates s to a terminal display width, counting wide
// glyphs as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth right-pads s with spaces to the given display width.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(TruncateWidth(s, width), width)
}

// FirstLine returns s up to its first newline.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
