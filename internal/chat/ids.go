// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "github.com/google/uuid"

// NewID returns a time-ordered UUIDv7 string, falling back to a random v4
// if the clock source fails.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IDGenerator produces identifiers; tests substitute deterministic ones.
type IDGenerator func() string
