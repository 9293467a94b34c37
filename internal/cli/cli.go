// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/logging"
)

// Version information, overridden at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level command to run.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdSync
	CmdProvider
	CmdConfig
	CmdExport
	CmdImport
	CmdStats
	CmdVersion
	CmdHelp
)

var commandNames = map[string]Command{
	"chat":      CmdChat,
	"c":         CmdChat,
	"ask":       CmdAsk,
	"a":         CmdAsk,
	"sync":      CmdSync,
	"provider":  CmdProvider,
	"providers": CmdProvider,
	"config":    CmdConfig,
	"export":    CmdExport,
	"import":    CmdImport,
	"stats":     CmdStats,
	"version":   CmdVersion,
	"help":      CmdHelp,
}

// Args holds parsed command line arguments.
type Args struct {
	Command    Command
	Subcommand string

	// Global flags
	Verbose bool
	Quiet   bool
	JSON    bool
	Offline bool

	// Turn selection
	Provider  string
	Model     string
	ChatID    string
	WebSearch bool
	Temporary bool

	// Positional arguments after the subcommand; for ask, the question
	Rest []string

	// Options holds the remaining valued flags (--server, --user, ...)
	Options map[string]string
}

const usageText = `rigchat - local-first LLM chat with end-to-end encrypted sync

Usage:
  rigchat                        Interactive chat (default)
  rigchat chat [flags]           Interactive chat
  rigchat ask "question"         Ask one question and print the answer
  rigchat sync <subcommand>      Encrypted sync
  rigchat provider <subcommand>  Provider instances
  rigchat config <subcommand>    Configuration
  rigchat export FILE            Write every chat to a JSON backup
  rigchat export --chat ID [FILE] Render one chat as Markdown or HTML
  rigchat import FILE            Load chats from an export file
  rigchat stats [--days N]       Token usage by model and day
  rigchat version                Show version information

Chat flags:
  -p, --provider ID     Provider instance to use
  -m, --model ID        Model to use
      --chat ID         Continue a saved chat (id or unique prefix)
      --web-search      Enable web search for supported models
      --temporary       Do not save or sync the conversation

  Messages may reference @file:PATH (or @file:"path with spaces") and
  @clipboard; the content is attached to the message.

Sync:
  rigchat sync wallet [--server URL]             Create an account
  rigchat sync login --user ID [--server URL]    Sign in; uploads local history
  rigchat sync logout                            Sign out
  rigchat sync status                            Show the session
  rigchat sync pull                              Replace local settings, fetch all changes
  rigchat sync push                              Upload settings and every chat
  rigchat sync now                               Fetch changes since the last sync

  The passphrase is read from the terminal, or from RIGCHAT_PASSPHRASE
  when stdin is not a terminal. It never leaves this machine.

Providers:
  rigchat provider add ID [--type openai|ollama] [--base-url URL] [--api-key KEY]
                          [--model ID] [--name NAME]
  rigchat provider list
  rigchat provider remove ID
  rigchat provider models ID [--refresh]
  rigchat provider disable ID MODEL              Hide a model from pickers
  rigchat provider enable ID MODEL

Export:
  --format md|html   Document format (default from FILE extension, else md)
  --reasoning        Include model reasoning
  --theme dark|light HTML theme
  --open             Open the file when done

Config:
  rigchat config show            Print the effective configuration
  rigchat config get KEY         Print one value (dot notation)
  rigchat config set KEY VALUE   Change and save one value
  rigchat config keys            List every key
  rigchat config path            Print the config file location
  rigchat config init [--force]  Write the default config file

Global flags:
  -v, --verbose   Debug logging
  -q, --quiet     Only errors
      --json      JSON output where supported
      --offline   Only reach providers and sync servers on localhost

Environment:
  RIGCHAT_SYNC_SERVER, RIGCHAT_DB_PATH, RIGCHAT_LOG_LEVEL, RIGCHAT_LOG_FILE,
  RIGCHAT_SYSTEM_PROMPT, RIGCHAT_OPENAI_API_KEY, RIGCHAT_OPENAI_BASE_URL,
  RIGCHAT_PASSPHRASE, RIGCHAT_OFFLINE, NO_COLOR, FORCE_COLOR
`

// Usage returns the help text.
func Usage() string { return usageText }

// Parse turns argv (without the program name) into Args.
func Parse(argv []string) (Args, error) {
	args := Args{Command: CmdChat}
	if len(argv) > 0 && !strings.HasPrefix(argv[0], "-") {
		cmd, ok := commandNames[strings.ToLower(argv[0])]
		if !ok {
			return args, usageErr("Run 'rigchat help' for usage.", "unknown command %q", argv[0])
		}
		args.Command = cmd
		argv = argv[1:]
	}

	p := NewArgParser(argv)
	if p.BoolFlag("help", "h") {
		args.Command = CmdHelp
		return args, nil
	}

	args.Verbose = p.BoolFlag("verbose", "v")
	args.Quiet = p.BoolFlag("quiet", "q")
	args.JSON = p.BoolFlag("json")
	args.Offline = p.BoolFlag("offline")
	args.Provider = p.Flag("provider", "p")
	args.Model = p.Flag("model", "m")
	args.ChatID = p.Flag("chat")
	args.WebSearch = p.BoolFlag("web-search")
	args.Temporary = p.BoolFlag("temporary")

	args.Options = p.Options()
	for _, k := range []string{"provider", "p", "model", "m", "chat"} {
		delete(args.Options, k)
	}
	for _, k := range []string{"refresh", "no-stdin", "reasoning", "open", "force"} {
		if p.BoolFlag(k) {
			args.Options[k] = "true"
		}
	}

	switch args.Command {
	case CmdAsk, CmdExport, CmdImport:
		args.Rest = p.PositionalFrom(0)
	default:
		args.Subcommand = strings.ToLower(p.Positional(0))
		args.Rest = p.PositionalFrom(1)
	}
	return args, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// env is what every command needs before it runs.
type env struct {
	args     Args
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	closeLog func() error
	out      io.Writer
}

func newEnv(args Args) (*env, error) {
	cfg, loadErr := config.Load()
	if cfg == nil {
		return nil, loadErr
	}
	path, _ := config.ConfigPathTOML()
	if args.Offline {
		cfg.General.Offline = true
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	switch {
	case args.Verbose:
		level = slog.LevelDebug
	case args.Quiet:
		level = slog.LevelError
	}
	logger, closeLog := logging.Setup(cfg.Logging.File, level)
	if loadErr != nil {
		logger.Warn("using default configuration", "error", loadErr)
	}

	return &env{args: args, cfg: cfg, cfgPath: path, logger: logger, closeLog: closeLog, out: os.Stdout}, nil
}

func (e *env) close() {
	if e.closeLog != nil {
		e.closeLog()
	}
}

// openApp opens the local database. Background sync and model refresh
// only run for interactive commands.
func (e *env) openApp(ctx context.Context, foreground bool) (*app.App, error) {
	a, err := app.Open(ctx, e.cfg, e.logger, app.Options{Foreground: foreground})
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.out, format, args...)
}

// Run executes args.
func Run(ctx context.Context, args Args) error {
	switch args.Command {
	case CmdHelp:
		fmt.Print(usageText)
		return nil
	case CmdVersion:
		printVersion(os.Stdout)
		return nil
	}

	e, err := newEnv(args)
	if err != nil {
		// config commands must work on a broken file
		if args.Command != CmdConfig {
			return err
		}
		e = &env{args: args, cfg: config.Default(), logger: logging.Discard(), out: os.Stdout}
		e.cfgPath, _ = config.ConfigPathTOML()
	}
	defer e.close()

	switch args.Command {
	case CmdChat:
		return runChat(ctx, e)
	case CmdAsk:
		return runAsk(ctx, e)
	case CmdSync:
		return runSync(ctx, e)
	case CmdProvider:
		return runProvider(ctx, e)
	case CmdConfig:
		return runConfig(e)
	case CmdExport:
		return runExport(ctx, e)
	case CmdImport:
		return runImport(ctx, e)
	case CmdStats:
		return runStats(ctx, e)
	default:
		return usageErr("Run 'rigchat help' for usage.", "unknown command")
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat %s\n", Version)
	fmt.Fprintf(w, "  commit:  %s\n", GitCommit)
	fmt.Fprintf(w, "  built:   %s\n", BuildDate)
	fmt.Fprintf(w, "  go:      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
