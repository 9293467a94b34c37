// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"sync"
	"testing"
)

// =============================================================================
// MODE TESTS
// =============================================================================

func TestMode_Set(t *testing.T) {
	m := New(false)
	if m.Enabled() {
		t.Error("New(false) should be online")
	}

	m.Set(true)
	if !m.Enabled() {
		t.Error("Enabled should return true after Set(true)")
	}
	if m.Indicator() != "OFFLINE" {
		t.Errorf("Indicator = %q, want OFFLINE", m.Indicator())
	}

	m.Set(false)
	if m.Enabled() || m.Indicator() != "" {
		t.Error("mode should be online after Set(false)")
	}
}

func TestMode_NilIsOnline(t *testing.T) {
	var m *Mode
	if m.Enabled() {
		t.Error("nil mode should be online")
	}
	m.Set(true) // must not panic
	if err := m.CheckURL("https://api.openai.com/v1"); err != nil {
		t.Errorf("nil mode should allow remote hosts: %v", err)
	}
	if err := m.CheckWebSearch(); err != nil {
		t.Errorf("nil mode should allow web search: %v", err)
	}
}

func TestMode_ConcurrentAccess(t *testing.T) {
	m := New(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Set(j%2 == 0)
				_ = m.Enabled()
			}
		}()
	}
	wg.Wait()
}

// =============================================================================
// LOCALHOST DETECTION TESTS
// =============================================================================

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost:11434", true},
		{"127.0.0.1", true},
		{"127.0.0.1:8080", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"[::1]", true},
		{"[::1]:11434", true},
		{"0:0:0:0:0:0:0:1", true},
		{"", false},
		{"0.0.0.0", false},
		{"192.168.1.10", false},
		{"api.openai.com", false},
		{"localhost.evil.com", false},
		{"127.0.0.1.nip.io", false},
	}

	for _, tt := range tests {
		if got := IsLocalhost(tt.host); got != tt.want {
			t.Errorf("IsLocalhost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

// =============================================================================
// URL GUARD TESTS
// =============================================================================

func TestCheckURL_Online(t *testing.T) {
	m := New(false)

	for _, u := range []string{"https://api.openai.com/v1", "http://127.0.0.1:11434", "HTTPS://sync.example.com"} {
		if err := m.CheckURL(u); err != nil {
			t.Errorf("CheckURL(%q) online: %v", u, err)
		}
	}
	for _, u := range []string{"file:///etc/passwd", "javascript:alert(1)", "data:text/plain,hi", "ftp://example.com"} {
		if err := m.CheckURL(u); !errors.Is(err, ErrInvalidURLScheme) {
			t.Errorf("CheckURL(%q) = %v, want ErrInvalidURLScheme", u, err)
		}
	}
}

func TestCheckURL_Offline(t *testing.T) {
	m := New(true)

	for _, u := range []string{"http://localhost:11434", "http://127.0.0.1:1234/v1", "http://[::1]:8080"} {
		if err := m.CheckURL(u); err != nil {
			t.Errorf("CheckURL(%q) offline: %v", u, err)
		}
	}
	for _, u := range []string{"https://api.openai.com/v1", "https://openrouter.ai/api/v1", "http://192.168.1.5:11434"} {
		if err := m.CheckURL(u); !errors.Is(err, ErrNonLocalhost) {
			t.Errorf("CheckURL(%q) = %v, want ErrNonLocalhost", u, err)
		}
	}
	if err := m.CheckURL("file:///tmp/x"); !errors.Is(err, ErrInvalidURLScheme) {
		t.Errorf("scheme must be checked before host, got %v", err)
	}
}

func TestCheckURL_Malformed(t *testing.T) {
	if err := New(false).CheckURL("http://[::1"); err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestCheckWebSearch(t *testing.T) {
	if err := New(false).CheckWebSearch(); err != nil {
		t.Errorf("online: %v", err)
	}
	if err := New(true).CheckWebSearch(); !errors.Is(err, ErrWebSearchBlocked) {
		t.Errorf("offline: got %v, want ErrWebSearchBlocked", err)
	}
}
