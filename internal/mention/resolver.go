// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mention

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/jeranaias/rigchat/internal/chat"
)

var (
	// ErrFileNotFound is returned for a mention of a missing file.
	ErrFileNotFound = errors.New("file not found")

	// ErrFileTooLarge is returned when a file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrClipboardEmpty is returned when the clipboard has no text.
	ErrClipboardEmpty = errors.New("clipboard is empty")

	// ErrClipboardUnavailable is returned when no clipboard is reachable.
	ErrClipboardUnavailable = errors.New("clipboard unavailable")
)

// =============================================================================
// RESOLVER CONFIG
// =============================================================================

// Config holds configuration for resolving mentions.
type Config struct {
	// MaxFileSize is the largest file accepted (default: 5MB)
	MaxFileSize int64

	// WorkingDirectory is the base directory for relative paths
	WorkingDirectory string

	// ReadClipboard returns the clipboard text. Defaults to the system
	// clipboard.
	ReadClipboard func() (string, error)

	// NewID generates attachment ids.
	NewID func() string
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	wd, _ := os.Getwd()
	return Config{
		MaxFileSize:      5 * 1024 * 1024,
		WorkingDirectory: wd,
		ReadClipboard:    clipboard.ReadAll,
		NewID:            chat.NewID,
	}
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver turns mentions into attachments.
type Resolver struct {
	cfg Config
}

// NewResolver fills unset fields of cfg from DefaultConfig.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = def.WorkingDirectory
	}
	if cfg.ReadClipboard == nil {
		cfg.ReadClipboard = def.ReadClipboard
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	return &Resolver{cfg: cfg}
}

// Resolve parses input and loads every mention. It fails on the first
// mention that cannot be loaded so nothing is sent half-attached.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, []chat.Attachment, error) {
	if !HasMentions(input) {
		return input, nil, nil
	}
	mentions, text := Parse(input)
	atts := make([]chat.Attachment, 0, len(mentions))
	for _, m := range mentions {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		var (
			att chat.Attachment
			err error
		)
		switch m.Type {
		case File:
			att, err = r.File(m.Path)
		case Clipboard:
			att, err = r.Clipboard()
		}
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", m.Raw, err)
		}
		atts = append(atts, att)
	}
	return text, atts, nil
}

// File loads path as an attachment.
func (r *Resolver) File(path string) (chat.Attachment, error) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.cfg.WorkingDirectory, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return chat.Attachment{}, ErrFileNotFound
		}
		return chat.Attachment{}, err
	}
	if info.IsDir() {
		return chat.Attachment{}, errors.New("path is a directory")
	}
	if info.Size() > r.cfg.MaxFileSize {
		return chat.Attachment{}, fmt.Errorf("%w (%d bytes, limit %d)", ErrFileTooLarge, info.Size(), r.cfg.MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return chat.Attachment{}, err
	}
	return r.attachment(filepath.Base(path), data), nil
}

// Clipboard loads the clipboard text as an attachment.
func (r *Resolver) Clipboard() (chat.Attachment, error) {
	text, err := r.cfg.ReadClipboard()
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("%w: %v", ErrClipboardUnavailable, err)
	}
	if strings.TrimSpace(text) == "" {
		return chat.Attachment{}, ErrClipboardEmpty
	}
	return r.attachment("clipboard.txt", []byte(text)), nil
}

func (r *Resolver) attachment(name string, data []byte) chat.Attachment {
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	typ := "file"
	if strings.HasPrefix(mimeType, "image/") {
		typ = "image"
	}
	return chat.Attachment{
		ID:       r.cfg.NewID(),
		Type:     typ,
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}
