// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/mention"
)

// maxStdinBytes caps piped context for ask.
const maxStdinBytes = 1 << 20

// askResult is the --json output of ask.
type askResult struct {
	ChatID  string          `json:"chatId"`
	Model   string          `json:"model"`
	Content string          `json:"content"`
	Usage   *chat.Usage     `json:"usage,omitempty"`
	Error   *chat.ChatError `json:"error,omitempty"`
}

// runAsk answers one question. The conversation is temporary unless
// --chat names a saved chat to continue.
func runAsk(ctx context.Context, e *env) error {
	question := strings.TrimSpace(strings.Join(e.args.Rest, " "))
	if !IsTTY() && e.args.Options["no-stdin"] == "" {
		piped, err := io.ReadAll(io.LimitReader(os.Stdin, maxStdinBytes))
		if err != nil {
			return wrap("ask", "read stdin", err)
		}
		if text := strings.TrimSpace(string(piped)); text != "" {
			if question == "" {
				question = text
			} else {
				question += "\n\n```\n" + text + "\n```"
			}
		}
	}
	question, atts, err := mention.NewResolver(mention.DefaultConfig()).Resolve(ctx, question)
	if err != nil {
		return wrap("ask", "attach", err)
	}
	if question == "" && len(atts) == 0 {
		return usageErr(`Example: rigchat ask "What is a goroutine?"`, "no question given")
	}

	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sel := app.Selection{InstanceID: e.args.Provider, ModelID: e.args.Model}
	var c chat.Chat
	if e.args.ChatID != "" {
		if c, err = a.FindChat(e.args.ChatID); err != nil {
			return err
		}
	} else {
		c = a.NewChat(sel, true)
	}

	opts := app.TurnOptions{Selection: sel, WebSearch: e.args.WebSearch, Attachments: atts}
	if opts.WebSearch {
		opts.WebSearchContextSize = chat.SearchContextMedium
	}

	if e.args.JSON {
		stop := onInterrupt(func() { a.Cancel(c.ID) })
		err := a.Send(ctx, c.ID, question, opts)
		stop()
		if err != nil {
			return err
		}
		return printAskJSON(e.out, a, c.ID)
	}

	p := newStreamPrinter(e.out, c.ID)
	unsub := a.States.Subscribe(p.onStates)
	stop := onInterrupt(func() { a.Cancel(c.ID) })
	err = a.Send(ctx, c.ID, question, opts)
	stop()
	unsub()
	final, _ := a.Chat(c.ID)
	p.finish(final)
	return err
}

func printAskJSON(w io.Writer, a *app.App, chatID string) error {
	c, _ := a.Chat(chatID)
	res := askResult{ChatID: chatID}
	if n := len(c.Messages); n > 0 {
		last := c.Messages[n-1]
		res.Model = last.Model
		res.Content = last.Content
		res.Usage = last.Usage
		res.Error = last.Error
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
