// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/security"
	"github.com/jeranaias/rigchat/internal/syncapi"
)

// isoMillis is the timestamp layout used inside encrypted fields.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Synced messages only carry attachment ids; the bytes stay on the device
// that created them.
const (
	syncedAttachmentName = "Synced Attachment"
	syncedAttachmentMime = "application/octet-stream"
)

func formatTime(t time.Time) string { return t.UTC().Format(isoMillis) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// =============================================================================
// ENVELOPE
// =============================================================================

// envelope converts between local values and their per-field encrypted
// wire form for one account.
type envelope struct {
	box       *security.CryptoBox
	hash      string
	userID    string
	machineID string
	now       func() time.Time
	logger    *slog.Logger
}

// sealer encrypts fields until the first failure.
type sealer struct {
	box  *security.CryptoBox
	hash string
	err  error
}

func (s *sealer) seal(v string) string {
	if s.err != nil {
		return ""
	}
	out, err := s.box.Encrypt(v, s.hash)
	if err != nil {
		s.err = err
	}
	return out
}

func (s *sealer) sealJSON(v any) string {
	if s.err != nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.err = err
		return ""
	}
	return s.seal(string(data))
}

// opener decrypts fields. A required field that fails poisons the record;
// an optional one is logged and treated as absent.
type opener struct {
	box    *security.CryptoBox
	hash   string
	logger *slog.Logger
	id     string
	err    error
}

func (o *opener) required(field, v string) string {
	if o.err != nil {
		return ""
	}
	out, err := o.box.Decrypt(v, o.hash)
	if err != nil {
		o.err = fmt.Errorf("decrypt %s of %s: %w", field, o.id, err)
	}
	return out
}

func (o *opener) optional(field, v string) (string, bool) {
	if v == "" {
		return "", false
	}
	out, err := o.box.Decrypt(v, o.hash)
	if err != nil {
		o.logger.Warn("failed to decrypt field", "id", o.id, "field", field, "error", err)
		return "", false
	}
	return out, true
}

// optionalJSON decodes an optional JSON field into v.
func (o *opener) optionalJSON(field, raw string, v any) bool {
	s, ok := o.optional(field, raw)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		o.logger.Warn("failed to decode field", "id", o.id, "field", field, "error", err)
		return false
	}
	return true
}

func (o *opener) time(field, v string) time.Time {
	if o.err != nil {
		return time.Time{}
	}
	t, err := parseTime(v)
	if err != nil {
		o.logger.Warn("invalid timestamp", "id", o.id, "field", field, "error", err)
	}
	return t
}

func (e envelope) sealer() *sealer { return &sealer{box: e.box, hash: e.hash} }

func (e envelope) opener(id string) *opener {
	return &opener{box: e.box, hash: e.hash, logger: e.logger, id: id}
}

// =============================================================================
// THREADS
// =============================================================================

// threadRequest encrypts a thread header for upload.
func (e envelope) threadRequest(t chat.Thread) (syncapi.SyncRequest[syncapi.SyncThread], error) {
	s := e.sealer()
	contextSize := t.WebSearchContextSize
	if contextSize == "" {
		contextSize = chat.SearchContextMedium
	}

	data := syncapi.SyncThread{
		ID:                   t.ID,
		Title:                s.seal(t.Title),
		MessageCount:         s.seal(strconv.Itoa(t.MessageCount)),
		LastMessageDate:      s.seal(formatTime(t.LastMessageDate)),
		Pinned:               s.seal(strconv.FormatBool(t.Pinned)),
		ProviderInstanceID:   s.seal(t.ProviderInstanceID),
		Model:                s.seal(t.Model),
		WebSearchEnabled:     s.seal(strconv.FormatBool(t.WebSearchEnabled)),
		WebSearchContextSize: s.seal(contextSize),
		CreatedAt:            s.seal(formatTime(t.CreatedAt)),
		UpdatedAt:            s.seal(formatTime(t.UpdatedAt)),
	}
	if t.BranchedFrom != nil {
		data.BranchedFrom = s.sealJSON(t.BranchedFrom)
	}
	if s.err != nil {
		return syncapi.SyncRequest[syncapi.SyncThread]{}, fmt.Errorf("encrypt thread %s: %w", t.ID, s.err)
	}

	return syncapi.SyncRequest[syncapi.SyncThread]{
		MachineID: e.machineID,
		UserID:    e.userID,
		Data:      data,
		Version:   e.now().UnixMilli(),
	}, nil
}

// openThread decrypts a thread header.
func (e envelope) openThread(st syncapi.SyncThread) (chat.Thread, error) {
	o := e.opener(st.ID)
	t := chat.Thread{ID: st.ID}

	t.Title = o.required("title", st.Title)
	t.CreatedAt = o.time("created_at", o.required("created_at", st.CreatedAt))
	t.UpdatedAt = o.time("updated_at", o.required("updated_at", st.UpdatedAt))
	if o.err != nil {
		return chat.Thread{}, o.err
	}

	if v, ok := o.optional("messageCount", st.MessageCount); ok {
		t.MessageCount, _ = strconv.Atoi(v)
	}
	if v, ok := o.optional("lastMessageDate", st.LastMessageDate); ok {
		t.LastMessageDate = o.time("lastMessageDate", v)
	}
	if v, ok := o.optional("pinned", st.Pinned); ok {
		t.Pinned = v == "true"
	}
	t.ProviderInstanceID, _ = o.optional("providerInstanceId", st.ProviderInstanceID)
	t.Model, _ = o.optional("model", st.Model)
	if v, ok := o.optional("webSearchEnabled", st.WebSearchEnabled); ok {
		t.WebSearchEnabled = v == "true"
	}
	t.WebSearchContextSize, _ = o.optional("webSearchContextSize", st.WebSearchContextSize)

	var branched chat.BranchRef
	if o.optionalJSON("branchedFrom", st.BranchedFrom, &branched) {
		t.BranchedFrom = &branched
	}
	return t, nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// messageRequest encrypts a message of threadID for upload. updated_at is
// the push time.
func (e envelope) messageRequest(m chat.Message, threadID string) (syncapi.SyncRequest[syncapi.SyncMessage], error) {
	s := e.sealer()
	now := e.now()

	data := syncapi.SyncMessage{
		ID:            m.ID,
		UserID:        e.userID,
		ThreadIDPlain: threadID,
		ThreadID:      s.seal(threadID),
		Role:          s.seal(string(m.Role)),
		Content:       s.seal(m.Content),
		CreatedAt:     s.seal(formatTime(m.CreatedAt)),
		UpdatedAt:     s.seal(formatTime(now)),
		Version:       now.UnixMilli(),
	}
	if m.Reasoning != "" {
		data.Reasoning = s.seal(m.Reasoning)
	}
	if m.ProviderInstanceID != "" {
		data.ProviderInstanceID = s.seal(m.ProviderInstanceID)
	}
	if m.Model != "" {
		data.Model = s.seal(m.Model)
	}
	if m.Usage != nil {
		data.Usage = s.sealJSON(m.Usage)
	}
	if m.Metrics != nil {
		data.Metrics = s.sealJSON(m.Metrics)
	}
	if m.Error != nil {
		data.Error = s.sealJSON(m.Error)
	}
	if m.WebSearchEnabled != nil {
		data.WebSearchEnabled = s.seal(strconv.FormatBool(*m.WebSearchEnabled))
	}
	if m.WebSearchContextSize != "" {
		data.WebSearchContextSize = s.seal(m.WebSearchContextSize)
	}
	if ids := m.AttachmentIDs(); len(ids) > 0 {
		data.AttachmentIDs = s.sealJSON(ids)
	}
	if s.err != nil {
		return syncapi.SyncRequest[syncapi.SyncMessage]{}, fmt.Errorf("encrypt message %s: %w", m.ID, s.err)
	}

	return syncapi.SyncRequest[syncapi.SyncMessage]{
		MachineID: e.machineID,
		UserID:    e.userID,
		Data:      data,
		Version:   now.UnixMilli(),
	}, nil
}

// openMessage decrypts a message and returns it with its thread id.
func (e envelope) openMessage(sm syncapi.SyncMessage) (chat.Message, string, error) {
	o := e.opener(sm.ID)
	m := chat.Message{ID: sm.ID}

	m.Role = chat.Role(o.required("role", sm.Role))
	m.Content = o.required("content", sm.Content)
	m.CreatedAt = o.time("created_at", o.required("created_at", sm.CreatedAt))
	m.UpdatedAt = o.time("updated_at", o.required("updated_at", sm.UpdatedAt))
	if o.err != nil {
		return chat.Message{}, "", o.err
	}

	threadID, ok := o.optional("threadId", sm.ThreadID)
	if !ok {
		threadID = sm.ThreadIDPlain
	}
	if threadID == "" {
		return chat.Message{}, "", fmt.Errorf("message %s has no thread id", sm.ID)
	}

	m.Reasoning, _ = o.optional("reasoning", sm.Reasoning)
	m.ProviderInstanceID, _ = o.optional("providerInstanceId", sm.ProviderInstanceID)
	m.Model, _ = o.optional("model", sm.Model)

	var usage chat.Usage
	if o.optionalJSON("usage", sm.Usage, &usage) {
		m.Usage = &usage
	}
	var metrics chat.StreamMetrics
	if o.optionalJSON("metrics", sm.Metrics, &metrics) {
		m.Metrics = &metrics
	}
	var chatErr chat.ChatError
	if o.optionalJSON("error", sm.Error, &chatErr) {
		m.Error = &chatErr
	}
	if v, ok := o.optional("webSearchEnabled", sm.WebSearchEnabled); ok {
		enabled := v == "true"
		m.WebSearchEnabled = &enabled
	}
	m.WebSearchContextSize, _ = o.optional("webSearchContextSize", sm.WebSearchContextSize)

	var ids []string
	if o.optionalJSON("attachmentIds", sm.AttachmentIDs, &ids) {
		for _, id := range ids {
			m.Attachments = append(m.Attachments, chat.Attachment{
				ID:       id,
				Type:     "file",
				Name:     syncedAttachmentName,
				MimeType: syncedAttachmentMime,
			})
		}
	}
	return m, threadID, nil
}

// openThreadID recovers the thread of a deleted message from whatever the
// operation carried.
func (e envelope) openThreadID(sm syncapi.SyncMessage) string {
	if v, ok := e.opener(sm.ID).optional("threadId", sm.ThreadID); ok {
		return v
	}
	if sm.ThreadIDPlain != "" {
		return sm.ThreadIDPlain
	}
	return "unknown"
}

// =============================================================================
// SETTINGS RESOURCES
// =============================================================================

func (e envelope) sealProviders(p chat.ProviderInstances) (map[string]string, error) {
	s := e.sealer()
	out := make(map[string]string, len(p))
	for id, inst := range p {
		out[id] = s.sealJSON(inst)
	}
	return out, s.err
}

// openProviders decrypts every instance it can; failures are logged and
// skipped.
func (e envelope) openProviders(enc map[string]string) chat.ProviderInstances {
	out := make(chat.ProviderInstances, len(enc))
	for key, v := range enc {
		var inst chat.ProviderInstance
		if !e.opener(key).optionalJSON("provider", v, &inst) {
			continue
		}
		if inst.ID == "" {
			inst.ID = key
		}
		out[inst.ID] = inst
	}
	return out
}

func (e envelope) sealDisabled(d chat.DisabledModels) (map[string]string, error) {
	s := e.sealer()
	out := make(map[string]string, len(d))
	for id, models := range d {
		if models == nil {
			models = []string{}
		}
		out[id] = s.sealJSON(models)
	}
	return out, s.err
}

func (e envelope) openDisabled(enc map[string]string) chat.DisabledModels {
	out := make(chat.DisabledModels, len(enc))
	for id, v := range enc {
		var models []string
		if e.opener(id).optionalJSON("models", v, &models) {
			out[id] = models
		}
	}
	return out
}

// sealAdvanced encrypts each setting as its own JSON value.
func (e envelope) sealAdvanced(a chat.AdvancedSettings) (map[string]string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	s := e.sealer()
	out := make(map[string]string, len(fields))
	for k, raw := range fields {
		out[k] = s.seal(string(raw))
	}
	return out, s.err
}

func (e envelope) openAdvanced(enc map[string]string) (chat.AdvancedSettings, error) {
	fields := make(map[string]json.RawMessage, len(enc))
	for k, v := range enc {
		plain, ok := e.opener(k).optional("setting", v)
		if !ok || !json.Valid([]byte(plain)) {
			continue
		}
		fields[k] = json.RawMessage(plain)
	}

	var out chat.AdvancedSettings
	data, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode advanced settings: %w", err)
	}
	return out, nil
}
