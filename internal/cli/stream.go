// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/streaming"
)

// streamPrinter echoes the partial content of one chat's stream as the
// state store publishes it.
type streamPrinter struct {
	out    io.Writer
	chatID string

	mu        sync.Mutex
	messageID string
	printed   string
	thinking  bool
}

func newStreamPrinter(out io.Writer, chatID string) *streamPrinter {
	return &streamPrinter{out: out, chatID: chatID}
}

func (p *streamPrinter) onStates(states map[string]streaming.StreamState) {
	st, ok := states[p.chatID]
	if !ok || !st.IsStreaming {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messageID == "" {
		p.messageID = st.MessageID
	}
	if st.PartialContent == "" && st.PartialReasoning != "" && !p.thinking {
		p.thinking = true
		fmt.Fprint(p.out, DimStyle.Render("(thinking) "))
	}
	if strings.HasPrefix(st.PartialContent, p.printed) {
		fmt.Fprint(p.out, st.PartialContent[len(p.printed):])
		p.printed = st.PartialContent
	}
}

// finish prints whatever of the final answer was not echoed, then a
// footer with the model and timing.
func (p *streamPrinter) finish(c chat.Chat) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var msg *chat.Message
	if p.messageID != "" {
		if m, ok := c.FindMessage(p.messageID); ok {
			msg = &m
		}
	}
	if msg == nil && len(c.Messages) > 0 && c.Messages[len(c.Messages)-1].Role == chat.RoleAssistant {
		msg = &c.Messages[len(c.Messages)-1]
	}
	if msg == nil {
		fmt.Fprintln(p.out)
		return
	}

	switch {
	case strings.HasPrefix(msg.Content, p.printed):
		fmt.Fprint(p.out, msg.Content[len(p.printed):])
	default:
		fmt.Fprint(p.out, "\n"+msg.Content)
	}
	fmt.Fprintln(p.out)
	if msg.Error != nil {
		fmt.Fprintln(p.out, ErrorStyle.Render(msg.Error.Message))
	}
	if footer := messageFooter(*msg); footer != "" {
		fmt.Fprintln(p.out, DimStyle.Render(footer))
	}
	fmt.Fprintln(p.out)
}

func messageFooter(m chat.Message) string {
	var parts []string
	if m.Model != "" {
		parts = append(parts, m.Model)
	}
	if m.Metrics != nil {
		if m.Metrics.CompletionTokens > 0 {
			parts = append(parts, fmt.Sprintf("%d tokens", m.Metrics.CompletionTokens))
		}
		if m.Metrics.TokensPerSecond != nil {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", *m.Metrics.TokensPerSecond))
		}
		if m.Metrics.TotalTime > 0 {
			parts = append(parts, fmt.Sprintf("%.1fs", float64(m.Metrics.TotalTime)/1000))
		}
	}
	return strings.Join(parts, " · ")
}

// onInterrupt calls fn on the first SIGINT until the returned stop is
// called.
func onInterrupt(fn func()) (stop func()) {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			fn()
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sig)
			close(done)
		})
	}
}
