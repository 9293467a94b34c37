// rigchat - local-first LLM chat with end-to-end encrypted sync.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/rigchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	args, err := cli.Parse(os.Args[1:])
	if err != nil {
		printError(err)
		return cli.ExitCode(err)
	}

	// chat and ask turn SIGINT into "stop generating"
	signals := []os.Signal{syscall.SIGTERM}
	if args.Command != cli.CmdChat && args.Command != cli.CmdAsk {
		signals = append(signals, os.Interrupt)
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	if err := cli.Run(ctx, args); err != nil {
		printError(err)
		return cli.ExitCode(err)
	}
	return cli.ExitSuccess
}

func printError(err error) {
	if cli.ColorsEnabled() {
		fmt.Fprintln(os.Stderr, cli.ErrorStyle.Render("Error:"), err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
