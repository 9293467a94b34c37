// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/util"
)

// ErrEmptyChat is returned for a chat without messages.
var ErrEmptyChat = errors.New("chat has no messages")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a chat in one document format.
type Exporter interface {
	Export(c chat.Chat) ([]byte, error)

	// FileExtension includes the leading dot.
	FileExtension() string

	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is used when no explicit path is given.
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata adds a header with model, dates and counts, and per
	// message stats.
	IncludeMetadata bool

	IncludeTimestamps bool

	// IncludeReasoning renders assistant reasoning before the answer.
	IncludeReasoning bool

	// Theme for HTML export ("light" or "dark").
	Theme string

	// Now is stamped into the footer. Zero means time.Now.
	Now time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// ForFormat returns the exporter for a format name or file extension.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile renders c and writes it to path. An empty path writes a generated
// name under opts.OutputDir. Returns the path written.
// SECURITY: Exports contain full message content; written 0600.
func ToFile(c chat.Chat, ex Exporter, path string, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := ex.Export(c)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if path == "" {
		dir := opts.OutputDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, Filename(c, ex, opts.now()))
	}
	if err := util.AtomicWriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(path); err != nil {
			return path, fmt.Errorf("could not open %s: %w", path, err)
		}
	}
	return path, nil
}

// Filename builds chat_<title>_<timestamp><ext>.
func Filename(c chat.Chat, ex Exporter, at time.Time) string {
	return fmt.Sprintf("chat_%s_%s%s", sanitizeFilename(c.Title), at.Format("20060102_150405"), ex.FileExtension())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

var filenameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-", "\"", "-",
	"<", "-", ">", "-", "|", "-",
	" ", "_", "\t", "_", "\n", "_", "\r", "_",
)

// sanitizeFilename makes a title safe on Windows and Unix.
func sanitizeFilename(s string) string {
	s = filenameReplacer.Replace(util.TruncateRunes(s, 50))
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return '-'
		}
		return r
	}, s)
	if strings.Trim(s, "-_.") == "" {
		return "chat"
	}
	return s
}

func openFile(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}

func roleLabel(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "You"
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleSystem:
		return "System"
	case "":
		return "Unknown"
	default:
		s := string(r)
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

// messageStats summarises an assistant turn, or returns nil.
func messageStats(m chat.Message) []string {
	var parts []string
	if m.Model != "" {
		parts = append(parts, m.Model)
	}
	if m.Usage != nil && m.Usage.CompletionTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", m.Usage.CompletionTokens))
	}
	if m.Metrics != nil {
		if m.Metrics.TotalTime > 0 {
			parts = append(parts, formatDuration(m.Metrics.TotalTime))
		}
		if m.Metrics.TokensPerSecond != nil && *m.Metrics.TokensPerSecond > 0 {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", *m.Metrics.TokensPerSecond))
		}
	}
	return parts
}

// formatDuration formats milliseconds for display.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	return fmt.Sprintf("%dm %ds", int(seconds/60), int(seconds)%60)
}

func validate(c chat.Chat) error {
	if len(c.Messages) == 0 {
		return ErrEmptyChat
	}
	return nil
}

func titleOf(c chat.Chat) string {
	if strings.TrimSpace(c.Title) == "" {
		return "Untitled chat"
	}
	return c.Title
}
