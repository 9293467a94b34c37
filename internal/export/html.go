// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports chats to a self-contained HTML page.
// SECURITY: every chat-supplied string goes through html/template escaping.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Theme != "light" {
		opts.Theme = "dark"
	}
	return &HTMLExporter{options: opts}
}

type htmlBlock struct {
	Code bool
	Lang string
	Text string
}

type htmlMessage struct {
	Role      string
	Label     string
	Time      string
	Reasoning string
	Files     []string
	Blocks    []htmlBlock
	Error     string
	Stats     string
}

type htmlPage struct {
	Title    string
	Theme    string
	Meta     bool
	Model    string
	Created  string
	Updated  string
	Count    int
	Messages []htmlMessage
	Exported string
}

// Export renders c as HTML.
func (e *HTMLExporter) Export(c chat.Chat) ([]byte, error) {
	if err := validate(c); err != nil {
		return nil, err
	}

	page := htmlPage{
		Title:    titleOf(c),
		Theme:    e.options.Theme,
		Meta:     e.options.IncludeMetadata,
		Model:    c.Model,
		Created:  c.CreatedAt.Format(time.RFC3339),
		Updated:  c.UpdatedAt.Format(time.RFC3339),
		Count:    len(c.Messages),
		Exported: e.options.now().Format("January 2, 2006 at 3:04 PM"),
	}
	for _, m := range c.Messages {
		hm := htmlMessage{
			Role:   string(m.Role),
			Label:  roleLabel(m.Role),
			Blocks: splitBlocks(m.Content),
		}
		if e.options.IncludeTimestamps && !m.CreatedAt.IsZero() {
			hm.Time = m.CreatedAt.Local().Format("15:04:05")
		}
		if e.options.IncludeReasoning {
			hm.Reasoning = strings.TrimSpace(m.Reasoning)
		}
		for _, a := range m.Attachments {
			hm.Files = append(hm.Files, a.Name)
		}
		if m.Error != nil {
			hm.Error = fmt.Sprintf("%s: %s", m.Error.Provider, m.Error.Message)
		}
		if m.Role == chat.RoleAssistant && e.options.IncludeMetadata {
			hm.Stats = strings.Join(messageStats(m), " · ")
		}
		page.Messages = append(page.Messages, hm)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// splitBlocks separates fenced code from prose. Prose is split into
// paragraphs on blank lines. An unterminated fence runs to the end.
func splitBlocks(content string) []htmlBlock {
	var (
		blocks []htmlBlock
		text   []string
		code   []string
		lang   string
		inCode bool
	)
	flushText := func() {
		for _, p := range strings.Split(strings.Join(text, "\n"), "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				blocks = append(blocks, htmlBlock{Text: p})
			}
		}
		text = nil
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inCode && strings.HasPrefix(trimmed, "```"):
			flushText()
			inCode = true
			lang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
		case inCode && trimmed == "```":
			blocks = append(blocks, htmlBlock{Code: true, Lang: lang, Text: strings.Join(code, "\n")})
			inCode, code, lang = false, nil, ""
		case inCode:
			code = append(code, line)
		default:
			text = append(text, line)
		}
	}
	if inCode {
		blocks = append(blocks, htmlBlock{Code: true, Lang: lang, Text: strings.Join(code, "\n")})
	}
	flushText()
	return blocks
}

var pageTemplate = template.Must(template.New("chat").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="generator" content="rigchat">
<title>{{.Title}}</title>
<style>
:root { --bg:#0f1115; --fg:#e6e6e6; --muted:#8b93a1; --card:#181b22; --user:#1f3a5f; --code:#0b0d11; --err:#e06c75; }
.light-theme { --bg:#fafafa; --fg:#1d1f23; --muted:#5f6670; --card:#ffffff; --user:#e6f0fb; --code:#f3f4f6; --err:#b42318; }
body { margin:0; background:var(--bg); color:var(--fg); font:15px/1.6 -apple-system, "Segoe UI", sans-serif; }
.container { max-width:860px; margin:0 auto; padding:32px 20px; }
header h1 { margin:0 0 8px; font-size:1.6em; }
.meta { color:var(--muted); font-size:.85em; }
.message { background:var(--card); border-radius:8px; padding:14px 18px; margin:16px 0; }
.message.user { background:var(--user); }
.role { font-weight:600; }
.time, .stats, .files { color:var(--muted); font-size:.8em; }
.error { color:var(--err); }
details { color:var(--muted); margin:6px 0; }
pre { background:var(--code); padding:12px; border-radius:6px; overflow-x:auto; }
.lang { color:var(--muted); font-size:.75em; text-transform:uppercase; }
p { white-space:pre-wrap; margin:8px 0; }
footer { color:var(--muted); font-size:.8em; margin-top:32px; text-align:center; }
</style>
</head>
<body class="{{.Theme}}-theme">
<div class="container">
<header>
<h1>{{.Title}}</h1>
{{- if .Meta}}
<div class="meta">{{if .Model}}{{.Model}} · {{end}}{{.Count}} messages · created {{.Created}} · updated {{.Updated}}</div>
{{- end}}
</header>
<main>
{{- range .Messages}}
<section class="message {{.Role}}">
<div><span class="role">{{.Label}}</span>{{if .Time}} <span class="time">{{.Time}}</span>{{end}}</div>
{{- if .Reasoning}}
<details><summary>Reasoning</summary><p>{{.Reasoning}}</p></details>
{{- end}}
{{- range .Files}}
<div class="files">Attachment: {{.}}</div>
{{- end}}
{{- range .Blocks}}
{{- if .Code}}
<div class="code">{{if .Lang}}<div class="lang">{{.Lang}}</div>{{end}}<pre><code>{{.Text}}</code></pre></div>
{{- else}}
<p>{{.Text}}</p>
{{- end}}
{{- end}}
{{- if .Error}}
<div class="error">{{.Error}}</div>
{{- end}}
{{- if .Stats}}
<div class="stats">{{.Stats}}</div>
{{- end}}
</section>
{{- end}}
</main>
<footer>Exported from <strong>rigchat</strong> on {{.Exported}}</footer>
</div>
</body>
</html>
`))
