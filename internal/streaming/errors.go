// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streaming

import (
	"errors"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
)

const (
	unknownErrorMessage = "An unknown error occurred"
	unknownErrorType    = "unknown_error"
)

// classifyError turns a stream failure into the structured error stored on
// the assistant message. Backend errors keep their type, param and code;
// anything else becomes an unknown_error carrying err's text. providerID
// names the backend that failed.
func classifyError(err error, providerID string) *chat.ChatError {
	var ce *chat.ChatError
	if errors.As(err, &ce) {
		out := *ce
		return &out
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		out := &chat.ChatError{
			Message:  apiErr.Message,
			Type:     apiErr.Type,
			Param:    apiErr.Param,
			Code:     apiErr.Code,
			Provider: providerID,
		}
		if out.Message == "" {
			out.Message = unknownErrorMessage
		}
		if out.Type == "" {
			out.Type = unknownErrorType
		}
		return out
	}

	msg := unknownErrorMessage
	if err != nil {
		msg = err.Error()
	}
	return &chat.ChatError{
		Message:  msg,
		Type:     unknownErrorType,
		Provider: providerID,
	}
}
