// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
)

// MessageUpdater applies fn to the message with messageID in the
// conversation store. fn must not retain or mutate its argument.
type MessageUpdater func(messageID string, fn func(chat.Message) chat.Message)

// =============================================================================
// CHUNK CLASSIFICATION
// =============================================================================

type chunkKind int

const (
	chunkContent chunkKind = iota
	chunkReasoning
	chunkAttachment
)

type chunk struct {
	kind       chunkKind
	text       string
	attachment chat.Attachment
}

// attachmentEnvelope is the out-of-band payload a provider may emit.
type attachmentEnvelope struct {
	Type string           `json:"type"`
	Data *chat.Attachment `json:"data"`
}

// classifyChunk tries, in order: attachment JSON, reasoning marker, plain
// content. Malformed JSON falls through to the later cases.
func classifyChunk(raw string) chunk {
	if strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var env attachmentEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil && env.Type == "attachment" && env.Data != nil {
			return chunk{kind: chunkAttachment, attachment: *env.Data}
		}
	}
	if rest, ok := strings.CutPrefix(raw, provider.ReasoningPrefix); ok {
		return chunk{kind: chunkReasoning, text: rest}
	}
	return chunk{kind: chunkContent, text: raw}
}

// =============================================================================
// PROCESSOR
// =============================================================================

// Result is the accumulated output of one stream. ThinkingTime is nil when
// no content chunk arrived or the stream resumed existing content.
type Result struct {
	Content      string
	Reasoning    string
	ThinkingTime *int64
}

// Processor reads one stream into one assistant message.
type Processor struct {
	chatID    string
	messageID string
	states    *StateStore
	update    MessageUpdater
	now       func() time.Time
}

// NewProcessor returns a processor that writes to messageID of chatID.
func NewProcessor(chatID, messageID string, states *StateStore, update MessageUpdater) *Processor {
	return &Processor{
		chatID:    chatID,
		messageID: messageID,
		states:    states,
		update:    update,
		now:       time.Now,
	}
}

// Process reads r until io.EOF. initialContent seeds the content
// accumulator when continuing an interrupted message. A read error ends
// processing; the partial result is returned with it.
func (p *Processor) Process(r provider.ChunkReader, initialContent string) (Result, error) {
	var (
		content      strings.Builder
		reasoning    strings.Builder
		thinkingTime *int64
	)
	content.WriteString(initialContent)
	firstContent := initialContent != ""
	start := p.now()

	result := func() Result {
		return Result{Content: content.String(), Reasoning: reasoning.String(), ThinkingTime: thinkingTime}
	}

	for {
		raw, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return result(), nil
		}
		if err != nil {
			return result(), err
		}

		c := classifyChunk(raw)
		switch c.kind {
		case chunkAttachment:
			att := c.attachment
			p.update(p.messageID, func(m chat.Message) chat.Message {
				atts := make([]chat.Attachment, len(m.Attachments), len(m.Attachments)+1)
				copy(atts, m.Attachments)
				m.Attachments = append(atts, att)
				return m
			})

		case chunkReasoning:
			reasoning.WriteString(c.text)
			snapshot := reasoning.String()
			if p.states != nil {
				p.states.mutate(p.chatID, p.messageID, func(st StreamState) StreamState {
					st.PartialReasoning = snapshot
					return st
				})
			}
			p.update(p.messageID, func(m chat.Message) chat.Message {
				m.Reasoning = snapshot
				return m
			})

		default:
			if !firstContent {
				ms := p.now().Sub(start).Milliseconds()
				thinkingTime = &ms
				firstContent = true
			}
			content.WriteString(c.text)
			snapshot := content.String()
			if p.states != nil {
				p.states.mutate(p.chatID, p.messageID, func(st StreamState) StreamState {
					st.PartialContent = snapshot
					return st
				})
			}
			p.update(p.messageID, func(m chat.Message) chat.Message {
				m.Content = snapshot
				return m
			})
		}
	}
}
