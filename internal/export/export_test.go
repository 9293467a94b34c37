// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/chat"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleChat() chat.Chat {
	tps := 42.5
	created := time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC)
	return chat.Chat{
		ID:        "c1",
		Title:     "Go: <generics> & you",
		Model:     "gpt-4o",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "Show me a map function", CreatedAt: created},
			{
				ID:        "m2",
				Role:      chat.RoleAssistant,
				Content:   "Here:\n\n```go\nfunc Map[T any](s []T) {}\n```\n\nDone <b>now</b>.",
				Reasoning: "think about generics",
				Model:     "gpt-4o",
				Usage:     &chat.Usage{CompletionTokens: 12},
				Metrics:   &chat.StreamMetrics{TotalTime: 1500, TokensPerSecond: &tps},
				CreatedAt: created.Add(time.Second),
			},
		},
	}
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Now = fixedNow
	return opts
}

func TestForFormat(t *testing.T) {
	for _, f := range []string{"md", "Markdown", ".md"} {
		ex, err := ForFormat(f, nil)
		require.NoError(t, err)
		assert.Equal(t, ".md", ex.FileExtension())
	}
	ex, err := ForFormat("htm", nil)
	require.NoError(t, err)
	assert.Equal(t, "text/html", ex.MimeType())

	_, err = ForFormat("pdf", nil)
	assert.Error(t, err)
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions()).Export(sampleChat())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Go: <generics> & you\"\n"), md)
	assert.Contains(t, md, "# Go: <generics> & you")
	assert.Contains(t, md, "### You")
	assert.Contains(t, md, "```go\nfunc Map[T any](s []T) {}\n```")
	assert.Contains(t, md, "gpt-4o | 12 tokens | 1.50s | 42.5 tok/s")
	assert.NotContains(t, md, "think about generics")
	assert.Contains(t, md, "March 1, 2025")
}

func TestMarkdownExport_Reasoning(t *testing.T) {
	opts := testOptions()
	opts.IncludeReasoning = true
	opts.IncludeMetadata = false

	out, err := NewMarkdownExporter(opts).Export(sampleChat())
	require.NoError(t, err)
	assert.Contains(t, string(out), "<summary>Reasoning</summary>\n\nthink about generics")
	assert.False(t, strings.HasPrefix(string(out), "---"))
}

func TestHTMLExport_EscapesContent(t *testing.T) {
	out, err := NewHTMLExporter(testOptions()).Export(sampleChat())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>Go: &lt;generics&gt; &amp; you</title>")
	assert.Contains(t, page, "Done &lt;b&gt;now&lt;/b&gt;.")
	assert.NotContains(t, page, "<b>now</b>")
	assert.Contains(t, page, `<div class="lang">go</div><pre><code>func Map[T any](s []T) {}</code></pre>`)
	assert.Contains(t, page, `class="dark-theme"`)
}

func TestExport_EmptyChat(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(chat.Chat{ID: "x"})
	assert.ErrorIs(t, err, ErrEmptyChat)
	_, err = NewHTMLExporter(nil).Export(chat.Chat{ID: "x"})
	assert.ErrorIs(t, err, ErrEmptyChat)
}

func TestSplitBlocks(t *testing.T) {
	blocks := splitBlocks("one\ntwo\n\nthree\n```sh\nls -la\n```\nfour\n```\nunterminated")
	require.Len(t, blocks, 5)
	assert.Equal(t, htmlBlock{Text: "one\ntwo"}, blocks[0])
	assert.Equal(t, htmlBlock{Text: "three"}, blocks[1])
	assert.Equal(t, htmlBlock{Code: true, Lang: "sh", Text: "ls -la"}, blocks[2])
	assert.Equal(t, htmlBlock{Text: "four"}, blocks[3])
	assert.Equal(t, htmlBlock{Code: true, Text: "unterminated"}, blocks[4])
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.OutputDir = dir
	ex := NewMarkdownExporter(opts)

	path, err := ToFile(sampleChat(), ex, "", opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chat_Go-_-generics-_&_you_20250301_120000.md"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	explicit := filepath.Join(dir, "out.md")
	path, err = ToFile(sampleChat(), ex, explicit, opts)
	require.NoError(t, err)
	assert.Equal(t, explicit, path)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b_c", sanitizeFilename("a/b c"))
	assert.Equal(t, "chat", sanitizeFilename(""))
	assert.Equal(t, "chat", sanitizeFilename("///"))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("é", 80))), 50)
}
