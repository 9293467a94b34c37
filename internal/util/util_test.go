// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"ok":true}`), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(content))
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("x"), 0600))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestWordCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"hello", 1},
		{"  hello   there \n world\t", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WordCount(tt.in), "input %q", tt.in)
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "hello", TruncateRunes("hello", 10))
	assert.Equal(t, "hel...", TruncateRunes("hello world", 6))
	assert.Equal(t, "日本...", TruncateRunes("日本語のテキスト", 5))
	assert.Equal(t, "", TruncateRunes("abc", 0))
}

func TestTruncateWidth(t *testing.T) {
	assert.Equal(t, "short", TruncateWidth("short", 20))
	got := TruncateWidth(strings.Repeat("a", 30), 10)
	assert.Equal(t, 10, len(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPadWidth(t *testing.T) {
	assert.Equal(t, "ab   ", PadWidth("ab", 5))
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", FirstLine("one\ntwo"))
	assert.Equal(t, "single", FirstLine("single"))
}

// =============================================================================
// SPLIT COUNT TESTS
// =============================================================================

func TestSplitCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"hello", 1},
		{"hello world", 2},
		{"a  b\tc\nd", 4},
		{" leading", 2},
		{"trailing ", 2},
		{"  both  ", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitCount(tt.in), "input %q", tt.in)
	}
}
