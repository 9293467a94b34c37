// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/syncapi"
	"github.com/jeranaias/rigchat/internal/syncer"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitNotFound     = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command with what it was doing.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// UsageError is invalid command line input.
type UsageError struct {
	Message string
	Hint    string
}

func (e *UsageError) Error() string {
	if e.Hint != "" {
		return e.Message + "\n  " + e.Hint
	}
	return e.Message
}

func usageErr(hint, format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...), Hint: hint}
}

func wrap(command, action string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Action: action, Err: err}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	var (
		usage   *UsageError
		verrs   config.ValidateErrors
		httpErr *syncapi.HTTPError
		netErr  net.Error
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &verrs):
		return ExitConfigError
	case errors.Is(err, syncer.ErrAuthExpired),
		errors.Is(err, syncer.ErrUserNotAuthenticated),
		errors.Is(err, syncer.ErrNotAuthenticated):
		return ExitAuthError
	case errors.As(err, &httpErr) && httpErr.Status == 401:
		return ExitAuthError
	case errors.Is(err, app.ErrChatNotFound):
		return ExitNotFound
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
