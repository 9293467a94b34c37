// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a KV held in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]Entry
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, ns, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.Value...), nil
}

func (m *MemoryStore) Put(_ context.Context, ns, key, parent string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]Entry)
		m.data[ns] = bucket
	}
	bucket[key] = Entry{Key: key, Parent: parent, Value: append([]byte(nil), value...)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[ns], key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, ns string) ([]Entry, error) {
	return m.collect(ns, func(Entry) bool { return true })
}

func (m *MemoryStore) ListByParent(_ context.Context, ns, parent string) ([]Entry, error) {
	return m.collect(ns, func(e Entry) bool { return e.Parent == parent })
}

func (m *MemoryStore) collect(ns string, keep func(Entry) bool) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Entry
	for _, e := range m.data[ns] {
		if keep(e) {
			e.Value = append([]byte(nil), e.Value...)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
