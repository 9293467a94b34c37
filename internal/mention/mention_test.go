// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mention

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	mentions, text := Parse(`review @file:"my notes.txt" and @file:main.go  please @clipboard`)

	require.Len(t, mentions, 3)
	assert.Equal(t, File, mentions[0].Type)
	assert.Equal(t, "my notes.txt", mentions[0].Path)
	assert.Equal(t, "main.go", mentions[1].Path)
	assert.Equal(t, Clipboard, mentions[2].Type)
	assert.Equal(t, "review and please", text)
}

func TestParse_KeepsNewlinesAndPlainText(t *testing.T) {
	mentions, text := Parse("email me@example.com")
	assert.Empty(t, mentions)
	assert.Equal(t, "email me@example.com", text)

	_, text = Parse("line one @file:a.txt\n\nline  two")
	assert.Equal(t, "line one\n\nline two", text)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "file", File.String())
	assert.Equal(t, "clipboard", Clipboard.String())
	assert.Equal(t, "unknown", Type(9).String())
}

func testResolver(t *testing.T, clip string, clipErr error) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	n := 0
	return NewResolver(Config{
		WorkingDirectory: dir,
		MaxFileSize:      64,
		ReadClipboard:    func() (string, error) { return clip, clipErr },
		NewID: func() string {
			n++
			return "att-" + string(rune('0'+n))
		},
	}), dir
}

func TestResolve(t *testing.T) {
	r, dir := testResolver(t, "copied text", nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0600))
	png := []byte("\x89PNG\r\n\x1a\n0000")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shot.png"), png, 0600))

	text, atts, err := r.Resolve(context.Background(), "see @file:notes.txt @file:shot.png @clipboard now")
	require.NoError(t, err)
	assert.Equal(t, "see now", text)
	require.Len(t, atts, 3)

	assert.Equal(t, "att-1", atts[0].ID)
	assert.Equal(t, "notes.txt", atts[0].Name)
	assert.Equal(t, "file", atts[0].Type)
	assert.Equal(t, int64(5), atts[0].Size)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), atts[0].Data)
	assert.Contains(t, atts[0].MimeType, "text/plain")

	assert.Equal(t, "image", atts[1].Type)
	assert.Equal(t, "image/png", atts[1].MimeType)

	assert.Equal(t, "clipboard.txt", atts[2].Name)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("copied text")), atts[2].Data)
}

func TestResolve_NoMentions(t *testing.T) {
	r, _ := testResolver(t, "", nil)
	text, atts, err := r.Resolve(context.Background(), "just text")
	require.NoError(t, err)
	assert.Equal(t, "just text", text)
	assert.Nil(t, atts)
}

func TestResolve_Errors(t *testing.T) {
	r, dir := testResolver(t, "  ", nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), make([]byte, 65), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0700))

	_, _, err := r.Resolve(context.Background(), "@file:missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.Contains(t, err.Error(), "@file:missing.txt")

	_, _, err = r.Resolve(context.Background(), "@file:big.txt")
	assert.ErrorIs(t, err, ErrFileTooLarge)

	_, _, err = r.Resolve(context.Background(), "@file:sub")
	assert.Error(t, err)

	_, _, err = r.Resolve(context.Background(), "@clipboard")
	assert.ErrorIs(t, err, ErrClipboardEmpty)

	r2, _ := testResolver(t, "", errors.New("no display"))
	_, _, err = r2.Resolve(context.Background(), "@clipboard")
	assert.ErrorIs(t, err, ErrClipboardUnavailable)
}
