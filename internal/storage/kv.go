// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when no record exists.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// =============================================================================
// NAMESPACES
// =============================================================================

// Record namespaces.
const (
	NSThreads      = "threads"
	NSMessages     = "messages"     // parent: thread id
	NSAttachments  = "attachments"  // parent: message id
	NSStreamStates = "stream_states"
	NSSettings     = "settings"
	NSModelCache   = "model_cache"
)

// =============================================================================
// KV INTERFACE
// =============================================================================

// Entry is one stored record.
type Entry struct {
	Key    string
	Parent string
	Value  []byte
}

// KV is the persistence contract every component writes through. Writes are
// durable when the call returns.
type KV interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Put(ctx context.Context, ns, key, parent string, value []byte) error
	Delete(ctx context.Context, ns, key string) error
	// List returns every record in ns ordered by key.
	List(ctx context.Context, ns string) ([]Entry, error)
	// ListByParent returns the records in ns whose parent is parent.
	ListByParent(ctx context.Context, ns, parent string) ([]Entry, error)
	Close() error
}

// GetJSON decodes the record at ns/key into v.
func GetJSON(ctx context.Context, kv KV, ns, key string, v any) error {
	data, err := kv.Get(ctx, ns, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return nil
}

// PutJSON encodes v and stores it at ns/key.
func PutJSON(ctx context.Context, kv KV, ns, key, parent string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", ns, key, err)
	}
	return kv.Put(ctx, ns, key, parent, data)
}
