// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a remote host while offline.
	ErrNonLocalhost = errors.New("offline mode: only localhost connections are allowed")

	// ErrWebSearchBlocked is returned when web search is requested offline.
	ErrWebSearchBlocked = errors.New("offline mode: web search is disabled")

	// ErrInvalidURLScheme is returned for anything but http and https.
	// SECURITY: checked in both modes, blocks file://, data:// and friends.
	ErrInvalidURLScheme = errors.New("only http and https URLs are allowed")
)

// =============================================================================
// MODE
// =============================================================================

// Mode is the switch shared by every network-facing component. The zero
// value and nil are online.
type Mode struct {
	enabled atomic.Bool
}

// New returns a mode set to enabled.
func New(enabled bool) *Mode {
	m := &Mode{}
	m.enabled.Store(enabled)
	return m
}

// Set turns the mode on or off.
func (m *Mode) Set(enabled bool) {
	if m != nil {
		m.enabled.Store(enabled)
	}
}

// Enabled reports whether only local connections are allowed.
func (m *Mode) Enabled() bool {
	return m != nil && m.enabled.Load()
}

// Indicator is the status label shown while offline, "" otherwise.
func (m *Mode) Indicator() string {
	if m.Enabled() {
		return "OFFLINE"
	}
	return ""
}

// =============================================================================
// GUARDS
// =============================================================================

// CheckURL validates rawURL before a connection is made. The scheme must be
// http or https; while offline the host must also be a loopback address.
func (m *Mode) CheckURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}

	if m.Enabled() && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Host)
	}
	return nil
}

// CheckWebSearch refuses web search while offline.
func (m *Mode) CheckWebSearch() error {
	if m.Enabled() {
		return ErrWebSearchBlocked
	}
	return nil
}

// IsLocalhost reports whether host (optionally with port or IPv6
// brackets) is "localhost" or a loopback IP.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	// covers all of 127.0.0.0/8 and every spelling of ::1
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
