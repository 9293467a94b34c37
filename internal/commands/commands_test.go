// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testRegistry(called *[]string) *Registry {
	r := NewRegistry()
	record := func(name string) Handler {
		return func(_ context.Context, args []string, raw string) error {
			*called = append(*called, name+":"+strings.Join(args, "|")+":"+raw)
			return nil
		}
	}
	r.Register(&Command{Name: "/help", Aliases: []string{"/h", "/?"}, Description: "Show help", Category: "Navigation", Handler: record("help")})
	r.Register(&Command{Name: "/quit", Aliases: []string{"/q"}, Description: "Exit", Category: "Navigation",
		Handler: func(context.Context, []string, string) error { return ErrQuit }})
	r.Register(&Command{
		Name:        "/open",
		Usage:       "/open <id>",
		Description: "Open a chat",
		Category:    "Chats",
		Args:        []ArgDef{{Name: "id", Required: true, Completer: func() []string { return []string{"3f2a91", "3f77aa", "b0b0b0"} }}},
		Handler:     record("open"),
	})
	r.Register(&Command{
		Name:     "/web",
		Category: "Chats",
		Args:     []ArgDef{{Name: "size", Values: []string{"low", "medium", "high"}}},
		Handler:  record("web"),
	})
	r.Register(&Command{Name: "/debug", Hidden: true, Handler: record("debug")})
	return r
}

// =============================================================================
// PARSER TESTS
// =============================================================================

func TestIsCommand(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"/help", true},
		{"  /help", true},
		{"hello", false},
		{"hello /help", false},
		{"", false},
		{"/", true},
	}

	for _, tc := range tests {
		if got := IsCommand(tc.input); got != tc.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestExtractCommandName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/help", "/help"},
		{"/open 3f2a", "/open"},
		{"  /help  ", "/help"},
		{"hello", ""},
		{"/", "/"},
	}

	for _, tc := range tests {
		if got := ExtractCommandName(tc.input); got != tc.want {
			t.Errorf("ExtractCommandName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"a b  c", []string{"a", "b", "c"}},
		{`"my chat" next`, []string{"my chat", "next"}},
		{`'it''s'`, []string{"its"}},
		{`"say \"hi\""`, []string{`say "hi"`}},
		{`""`, []string{""}},
		{"héllo wörld", []string{"héllo", "wörld"}},
	}

	for _, tc := range tests {
		if got := splitCommandLine(tc.input); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitCommandLine(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	var called []string
	p := NewParser(testRegistry(&called))

	res := p.Parse("  /OPEN  'my chat'  ")
	if !res.IsCommand || res.Command == nil || res.Command.Name != "/open" {
		t.Fatalf("Parse did not resolve /open: %+v", res)
	}
	if res.RawArgs != "'my chat'" {
		t.Errorf("RawArgs = %q", res.RawArgs)
	}
	if !reflect.DeepEqual(res.Args, []string{"my chat"}) {
		t.Errorf("Args = %q", res.Args)
	}

	if res := p.Parse("/?"); res.Command == nil || res.Command.Name != "/help" {
		t.Errorf("alias /? did not resolve to /help")
	}
	if res := p.Parse("hello"); res.IsCommand {
		t.Errorf("plain text parsed as command")
	}
	if res := p.Parse("/nope"); res.Command != nil || res.CommandName != "/nope" {
		t.Errorf("unknown command resolved: %+v", res)
	}
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestRun(t *testing.T) {
	var called []string
	r := testRegistry(&called)
	p := NewParser(r)
	ctx := context.Background()

	if err := r.Run(ctx, p.Parse("/open b0b0 extra")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"open:b0b0|extra:b0b0 extra"}; !reflect.DeepEqual(called, want) {
		t.Errorf("called = %q, want %q", called, want)
	}

	err := r.Run(ctx, p.Parse("/open"))
	if err == nil || err.Error() != "usage: /open <id>" {
		t.Errorf("missing argument error = %v", err)
	}

	var unknown *UnknownCommandError
	if err := r.Run(ctx, p.Parse("/nope")); !errors.As(err, &unknown) || unknown.Name != "/nope" {
		t.Errorf("unknown command error = %v", err)
	}

	if err := r.Run(ctx, p.Parse("/q")); !errors.Is(err, ErrQuit) {
		t.Errorf("/q error = %v, want ErrQuit", err)
	}
}

func TestHelp(t *testing.T) {
	var called []string
	help := testRegistry(&called).Help()

	if strings.Contains(help, "/debug") {
		t.Errorf("hidden command in help:\n%s", help)
	}
	nav := strings.Index(help, "Navigation:")
	chats := strings.Index(help, "Chats:")
	if nav < 0 || chats < 0 || nav > chats {
		t.Errorf("categories missing or out of registration order:\n%s", help)
	}
	if !strings.Contains(help, "/open <id>") {
		t.Errorf("usage not shown:\n%s", help)
	}
}

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestComplete(t *testing.T) {
	var called []string
	c := NewCompleter(testRegistry(&called))

	tests := []struct {
		line string
		want []string
	}{
		{"hello", nil},
		{"/", []string{"/help", "/open", "/quit", "/web"}},
		{"/h", []string{"/help", "/h"}},
		{"/open ", []string{"/open 3f2a91", "/open 3f77aa", "/open b0b0b0"}},
		{"/open 3F", []string{"/open 3f2a91", "/open 3f77aa"}},
		{"/web m", []string{"/web medium"}},
		{"/web medium ", nil},
		{"/nope x", nil},
	}

	for _, tc := range tests {
		if got := c.Complete(tc.line); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Complete(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}
