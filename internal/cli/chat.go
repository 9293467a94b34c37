// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/mention"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	c.LoadHistory()
	return c
}

// SetCompleter installs tab completion.
func (c *ChatCLI) SetCompleter(f func(line string) []string) {
	c.line.SetCompleter(f)
}

// LoadHistory loads input history from disk.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads one line. Non-blank lines go into history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history.
// SECURITY: history holds prompts; written 0600.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession is the state of one REPL.
type chatSession struct {
	e   *env
	a   *app.App
	out io.Writer

	chatID     string
	sel        app.Selection
	webSearch  bool
	searchSize string
	temporary  bool
	mentions   *mention.Resolver
}

func runChat(ctx context.Context, e *env) error {
	a, err := e.openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	s := &chatSession{
		e:         e,
		a:         a,
		out:       e.out,
		sel:       app.Selection{InstanceID: e.args.Provider, ModelID: e.args.Model},
		webSearch: e.args.WebSearch,
		temporary: e.args.Temporary,
		mentions:  mention.NewResolver(mention.DefaultConfig()),
	}
	if e.args.ChatID != "" {
		c, err := a.FindChat(e.args.ChatID)
		if err != nil {
			return err
		}
		s.chatID = c.ID
	}
	if s.sel.InstanceID == "" {
		if def, err := a.DefaultSelection(); err == nil {
			if s.sel.ModelID == "" {
				s.sel.ModelID = def.ModelID
			}
			s.sel.InstanceID = def.InstanceID
		}
	}

	if e.cfgPath != "" {
		if w, err := config.NewWatcher(e.cfgPath, 100*time.Millisecond, e.logger, func(cfg *config.Config) {
			a.Reconfigure(ctx, cfg)
		}); err == nil {
			if err := w.Watch(); err == nil {
				defer w.Close()
			}
		}
	}

	if !IsTTY() {
		return s.runPiped(ctx, os.Stdin)
	}

	reg := s.commands()
	parser := commands.NewParser(reg)
	cli := NewChatCLI()
	cli.SetCompleter(commands.NewCompleter(reg).Complete)
	defer cli.Close()

	s.printWelcome()
	for {
		input, err := cli.ReadInput(promptStyle.Render("> "))
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			// io.EOF on Ctrl+D
			fmt.Fprintln(s.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if res := parser.Parse(input); res.IsCommand {
			err := reg.Run(ctx, res)
			if errors.Is(err, commands.ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(s.out, ErrorStyle.Render("Error: ")+err.Error())
			}
			continue
		}
		if err := s.send(ctx, input); err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render("Error: ")+err.Error())
		}
	}
}

// runPiped answers each non-blank line of r in one chat.
func (s *chatSession) runPiped(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		if err := s.send(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("rigchat "+Version))
	if label := s.a.Offline.Indicator(); label != "" {
		fmt.Fprintln(s.out, WarningStyle.Render(label+": only localhost providers are reachable, sync is paused"))
	}
	if s.sel.InstanceID == "" {
		fmt.Fprintln(s.out, WarningStyle.Render("No provider configured. Add one with: rigchat provider add ID --base-url URL --api-key KEY"))
	} else {
		fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("Using %s / %s", s.sel.InstanceID, s.modelLabel())))
	}
	if c, ok := s.a.Chat(s.chatID); ok {
		fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("Continuing %q (%d messages)", c.Title, len(c.Messages))))
	}
	if n := len(s.a.Interrupted()); n > 0 {
		fmt.Fprintln(s.out, WarningStyle.Render(fmt.Sprintf("%d interrupted answer(s); /open the chat and /resume to continue.", n)))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+C to stop an answer, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *chatSession) modelLabel() string {
	if s.sel.ModelID == "" {
		return "(instance default)"
	}
	return s.sel.ModelID
}

func (s *chatSession) turnOptions() app.TurnOptions {
	opts := app.TurnOptions{Selection: s.sel, WebSearch: s.webSearch}
	if s.webSearch {
		opts.WebSearchContextSize = s.searchSize
		if opts.WebSearchContextSize == "" {
			opts.WebSearchContextSize = chat.SearchContextMedium
		}
	}
	return opts
}

// =============================================================================
// TURNS
// =============================================================================

// send resolves @file and @clipboard mentions, then runs one turn.
func (s *chatSession) send(ctx context.Context, input string) error {
	text, atts, err := s.mentions.Resolve(ctx, input)
	if err != nil {
		return err
	}
	if text == "" && len(atts) == 0 {
		return nil
	}
	for _, a := range atts {
		fmt.Fprintln(s.out, DimStyle.Render(fmt.Sprintf("attached %s (%s, %d bytes)", a.Name, a.MimeType, a.Size)))
	}

	if _, ok := s.a.Chat(s.chatID); !ok {
		c := s.a.NewChat(s.sel, s.temporary)
		s.chatID = c.ID
	}
	opts := s.turnOptions()
	opts.Attachments = atts
	return s.stream(ctx, func(ctx context.Context) error {
		return s.a.Send(ctx, s.chatID, text, opts)
	})
}

// stream runs one turn, echoing the answer as it arrives. Ctrl+C cancels
// the turn and keeps what was received.
func (s *chatSession) stream(ctx context.Context, run func(context.Context) error) error {
	p := newStreamPrinter(s.out, s.chatID)
	unsub := s.a.States.Subscribe(p.onStates)
	stop := onInterrupt(func() { s.a.Cancel(s.chatID) })

	fmt.Fprint(s.out, assistantStyle.Render("assistant: "))
	err := run(ctx)
	stop()
	unsub()

	c, _ := s.a.Chat(s.chatID)
	p.finish(c)
	return err
}

// =============================================================================
// COMMANDS
// =============================================================================

// commands registers the REPL slash commands.
func (s *chatSession) commands() *commands.Registry {
	r := commands.NewRegistry()
	chatIDs := func() []string {
		var ids []string
		for _, c := range s.a.RecentChats() {
			ids = append(ids, shortID(c.ID))
		}
		return ids
	}
	instanceIDs := func() []string {
		var ids []string
		for _, inst := range s.a.Providers.Get().List() {
			ids = append(ids, inst.ID)
		}
		return ids
	}
	modelIDs := func() []string {
		models, _ := s.a.Models.Models(s.sel.InstanceID)
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		return ids
	}

	r.Register(&commands.Command{
		Name: "/help", Aliases: []string{"/h", "/?"}, Description: "Show commands", Category: "General",
		Handler: func(context.Context, []string, string) error {
			fmt.Fprint(s.out, commandStyle.Render(r.Help()))
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/quit", Aliases: []string{"/q", "/exit"}, Description: "Exit", Category: "General",
		Handler: func(context.Context, []string, string) error { return commands.ErrQuit },
	})

	r.Register(&commands.Command{
		Name: "/new", Aliases: []string{"/n"}, Description: "Start a new chat", Category: "Chats",
		Handler: func(context.Context, []string, string) error {
			s.chatID = ""
			fmt.Fprintln(s.out, DimStyle.Render("New chat."))
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/list", Aliases: []string{"/ls"}, Description: "List saved chats", Category: "Chats",
		Handler: func(context.Context, []string, string) error {
			s.printChats()
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/open", Usage: "/open <id>", Description: "Switch to a saved chat", Category: "Chats",
		Args: []commands.ArgDef{{Name: "id", Required: true, Completer: chatIDs}},
		Handler: func(_ context.Context, args []string, _ string) error {
			c, err := s.a.FindChat(args[0])
			if err != nil {
				return err
			}
			s.chatID = c.ID
			s.printTranscript(c)
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/title", Description: "Rename the chat from its first message", Category: "Chats",
		Handler: s.regenerateTitle,
	})
	r.Register(&commands.Command{
		Name: "/pin", Description: "Pin or unpin the chat", Category: "Chats",
		Handler: s.togglePin,
	})
	r.Register(&commands.Command{
		Name: "/export", Usage: "/export [md|html] [file]", Description: "Save the chat as a document", Category: "Chats",
		Args:    []commands.ArgDef{{Name: "format", Values: []string{"md", "html"}}, {Name: "file"}},
		Handler: s.exportChat,
	})
	r.Register(&commands.Command{
		Name: "/delete", Description: "Delete the current chat", Category: "Chats",
		Handler: func(context.Context, []string, string) error {
			if s.chatID == "" {
				return errors.New("no chat open")
			}
			s.a.DeleteChat(s.chatID)
			s.chatID = ""
			fmt.Fprintln(s.out, DimStyle.Render("Deleted."))
			return nil
		},
	})

	r.Register(&commands.Command{
		Name: "/regenerate", Aliases: []string{"/regen", "/r"}, Description: "Replace the last answer", Category: "Answers",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			if s.chatID == "" {
				return errors.New("nothing to regenerate")
			}
			return s.stream(ctx, func(ctx context.Context) error {
				return s.a.Regenerate(ctx, s.chatID, s.turnOptions())
			})
		},
	})
	r.Register(&commands.Command{
		Name: "/resume", Description: "Continue an interrupted answer", Category: "Answers",
		Handler: func(ctx context.Context, _ []string, _ string) error {
			if s.chatID == "" {
				return app.ErrNothingToResume
			}
			return s.stream(ctx, func(ctx context.Context) error {
				return s.a.Resume(ctx, s.chatID, s.sel)
			})
		},
	})

	r.Register(&commands.Command{
		Name: "/model", Aliases: []string{"/m"}, Usage: "/model [id]", Description: "Show or set the model", Category: "Settings",
		Args: []commands.ArgDef{{Name: "id", Completer: modelIDs}},
		Handler: func(_ context.Context, _ []string, raw string) error {
			if raw != "" {
				s.sel.ModelID = raw
			}
			fmt.Fprintln(s.out, RenderField("Model", s.modelLabel()))
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/provider", Aliases: []string{"/p"}, Usage: "/provider [id]", Description: "Show or set the provider instance", Category: "Settings",
		Args: []commands.ArgDef{{Name: "id", Completer: instanceIDs}},
		Handler: func(_ context.Context, args []string, _ string) error {
			if len(args) > 0 {
				if _, ok := s.a.Providers.Get()[args[0]]; !ok {
					return fmt.Errorf("Provider instance not found: %s", args[0])
				}
				s.sel = app.Selection{InstanceID: args[0]}
			}
			fmt.Fprintln(s.out, RenderField("Provider", s.sel.InstanceID))
			return nil
		},
	})
	r.Register(&commands.Command{
		Name: "/websearch", Aliases: []string{"/web"}, Usage: "/websearch [low|medium|high]", Description: "Toggle web search", Category: "Settings",
		Args: []commands.ArgDef{{Name: "size", Values: []string{chat.SearchContextLow, chat.SearchContextMedium, chat.SearchContextHigh}}},
		Handler: func(_ context.Context, args []string, _ string) error {
			if len(args) > 0 {
				size := strings.ToLower(args[0])
				if size != chat.SearchContextLow && size != chat.SearchContextMedium && size != chat.SearchContextHigh {
					return errors.New("usage: /websearch [low|medium|high]")
				}
				s.webSearch, s.searchSize = true, size
			} else {
				s.webSearch = !s.webSearch
			}
			fmt.Fprintln(s.out, RenderField("Web search", onOff(s.webSearch)))
			return nil
		},
	})
	return r
}

func (s *chatSession) regenerateTitle(ctx context.Context, _ []string, _ string) error {
	c, ok := s.a.Chat(s.chatID)
	if !ok {
		return errors.New("no chat open")
	}
	title, ok := s.a.Titles.Regenerate(ctx, s.a.Chats, c.ID, s.sel.InstanceID)
	if !ok {
		return errors.New("title generation is disabled or the chat has no user message")
	}
	if updated, ok := s.a.Chat(c.ID); ok {
		s.a.ThreadSync.SyncThread(updated)
	}
	fmt.Fprintln(s.out, RenderField("Title", title))
	return nil
}

func (s *chatSession) togglePin(context.Context, []string, string) error {
	c, ok := s.a.Chat(s.chatID)
	if !ok || c.IsTemporary {
		return errors.New("no saved chat open")
	}
	c.Pinned = !c.Pinned
	c.UpdatedAt = time.Now()
	s.a.Chats.Update(func(all []chat.Chat) []chat.Chat { return chat.ReplaceChat(all, c) })
	s.a.ThreadSync.SyncThread(c)
	fmt.Fprintln(s.out, RenderField("Pinned", onOff(c.Pinned)))
	return nil
}

func (s *chatSession) exportChat(_ context.Context, args []string, _ string) error {
	c, ok := s.a.Chat(s.chatID)
	if !ok {
		return errors.New("no chat open")
	}
	format, path := "md", ""
	if len(args) > 0 {
		format = args[0]
	}
	if len(args) > 1 {
		path = args[1]
	}
	opts := export.DefaultOptions()
	ex, err := export.ForFormat(format, opts)
	if err != nil {
		return err
	}
	written, err := export.ToFile(c, ex, path, opts)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, RenderField("Exported", written))
	return nil
}

func (s *chatSession) printChats() {
	chats := s.a.RecentChats()
	if len(chats) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No saved chats."))
		return
	}
	for _, c := range chats {
		marker := "  "
		if c.ID == s.chatID {
			marker = "* "
		}
		if c.Pinned {
			marker = marker[:1] + "^"
		}
		fmt.Fprintf(s.out, "%s%s  %s  %s\n",
			marker,
			DimStyle.Render(shortID(c.ID)),
			util.PadWidth(c.Title, 40),
			DimStyle.Render(c.LastMessageDate().Local().Format("2006-01-02 15:04")))
	}
}

func (s *chatSession) printTranscript(c chat.Chat) {
	fmt.Fprintln(s.out, SectionStyle.Render(c.Title))
	for _, m := range c.Messages {
		label := promptStyle.Render("you: ")
		if m.Role == chat.RoleAssistant {
			label = assistantStyle.Render("assistant: ")
		}
		fmt.Fprintln(s.out, label+WrapText(m.Content, 0))
	}
	fmt.Fprintln(s.out)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
