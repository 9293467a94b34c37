// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"bytes"
	"encoding/json"
	"sync"
)

// LoopGuard remembers the serialized value each resource is expected to
// hold after a remote change is applied locally, so the resulting store
// notification is not pushed back to the server.
//
// Two remote updates to the same key applied back to back overwrite each
// other's expectation. The worst case is one redundant push.
type LoopGuard struct {
	mu       sync.Mutex
	expected map[string][]byte
}

// NewLoopGuard returns an empty guard.
func NewLoopGuard() *LoopGuard {
	return &LoopGuard{expected: make(map[string][]byte)}
}

func serialize(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Record sets the expected value for key.
func (g *LoopGuard) Record(key string, v any) {
	data := serialize(v)
	g.mu.Lock()
	g.expected[key] = data
	g.mu.Unlock()
}

// Observe reports whether v is a local change for key, that is it differs
// from the expected value. v becomes the new expectation either way.
func (g *LoopGuard) Observe(key string, v any) bool {
	data := serialize(v)
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.expected[key]
	g.expected[key] = data
	return !ok || !bytes.Equal(prev, data)
}

// Consume reports whether v matches the expectation for key, dropping the
// expectation when it does. Used for one-shot records such as applied
// messages.
func (g *LoopGuard) Consume(key string, v any) bool {
	data := serialize(v)
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, ok := g.expected[key]
	if !ok || !bytes.Equal(prev, data) {
		return false
	}
	delete(g.expected, key)
	return true
}

// Forget drops the expectation for key.
func (g *LoopGuard) Forget(key string) {
	g.mu.Lock()
	delete(g.expected, key)
	g.mu.Unlock()
}

// Reset drops every expectation.
func (g *LoopGuard) Reset() {
	g.mu.Lock()
	g.expected = make(map[string][]byte)
	g.mu.Unlock()
}
