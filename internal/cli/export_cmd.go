// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jeranaias/rigchat/internal/export"
)

// runExport writes a JSON backup of every chat, or with --chat a readable
// document of one chat in --format md|html.
func runExport(ctx context.Context, e *env) error {
	path := ""
	if len(e.args.Rest) > 0 {
		path = e.args.Rest[0]
	}

	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if e.args.ChatID == "" {
		if path == "" {
			return usageErr("usage: rigchat export FILE | rigchat export --chat ID [--format md|html] [FILE]", "missing output file")
		}
		n, err := a.ExportChats(ctx, path)
		if err != nil {
			return wrap("export", "write backup", err)
		}
		fmt.Fprintln(e.out, SuccessStyle.Render(fmt.Sprintf("Exported %d chats to %s", n, path)))
		return nil
	}

	c, err := a.FindChat(e.args.ChatID)
	if err != nil {
		return err
	}

	format := e.args.Options["format"]
	if format == "" && path != "" {
		format = filepath.Ext(path)
	}
	if format == "" {
		format = "md"
	}
	opts := export.DefaultOptions()
	opts.IncludeReasoning = e.args.Options["reasoning"] != ""
	opts.OpenAfterExport = e.args.Options["open"] != ""
	if theme := e.args.Options["theme"]; theme != "" {
		opts.Theme = theme
	}
	ex, err := export.ForFormat(format, opts)
	if err != nil {
		return usageErr("Formats: md, html", "%v", err)
	}

	written, err := export.ToFile(c, ex, path, opts)
	if err != nil && written == "" {
		return wrap("export", "render chat", err)
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Exported "+titleOrDefault(c.Title)+" to "+written))
	if err != nil {
		fmt.Fprintln(e.out, WarningStyle.Render(err.Error()))
	}
	return nil
}

// runImport restores a JSON backup written by runExport.
func runImport(ctx context.Context, e *env) error {
	if len(e.args.Rest) == 0 {
		return usageErr("usage: rigchat import FILE", "missing input file")
	}
	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	imported, err := a.ImportChats(ctx, e.args.Rest[0])
	if err != nil {
		return wrap("import", "read backup", err)
	}
	fmt.Fprintln(e.out, SuccessStyle.Render(fmt.Sprintf("Imported %d chats.", len(imported))))
	if a.Sync.AuthState().IsAuthenticated {
		fmt.Fprintln(e.out, DimStyle.Render("Run 'rigchat sync push' to upload them."))
	}
	return nil
}

func titleOrDefault(title string) string {
	if title == "" {
		return "chat"
	}
	return fmt.Sprintf("%q", title)
}
