// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports chats to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders c as Markdown with optional YAML front matter.
func (e *MarkdownExporter) Export(c chat.Chat) ([]byte, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	title := titleOf(c)

	var sb strings.Builder
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		if c.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(c.Model))
		}
		fmt.Fprintf(&sb, "created: %s\n", c.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", c.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(c.Messages))
		sb.WriteString("generator: rigchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	for i, m := range c.Messages {
		label := roleLabel(m.Role)
		if e.options.IncludeTimestamps && !m.CreatedAt.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, m.CreatedAt.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		if e.options.IncludeReasoning && strings.TrimSpace(m.Reasoning) != "" {
			sb.WriteString("<details><summary>Reasoning</summary>\n\n")
			sb.WriteString(strings.TrimSpace(m.Reasoning))
			sb.WriteString("\n\n</details>\n\n")
		}

		for _, a := range m.Attachments {
			fmt.Fprintf(&sb, "> Attachment: `%s` (%s)\n\n", a.Name, a.MimeType)
		}

		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n\n")

		if m.Error != nil {
			fmt.Fprintf(&sb, "> **Error** (%s): %s\n\n", m.Error.Provider, m.Error.Message)
		}

		if m.Role == chat.RoleAssistant && e.options.IncludeMetadata {
			if stats := messageStats(m); len(stats) > 0 {
				fmt.Fprintf(&sb, "<sub>%s</sub>\n\n", strings.Join(stats, " | "))
			}
		}

		if i < len(c.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported from rigchat on %s*\n", e.options.now().Format("January 2, 2006 at 3:04 PM"))
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

var markdownEscaper = strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)

// escapeMarkdown escapes characters that break headings.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// escapeYAML quotes a scalar when it contains YAML syntax.
func escapeYAML(s string) string {
	if !strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") && !strings.HasPrefix(s, " ") && !strings.HasSuffix(s, " ") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
