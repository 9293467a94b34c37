// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package syncapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status     int
	StatusText string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
}

// APIError is the error object inside a Response envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

// IsUnauthorized reports whether err means the access token was rejected.
// Errors that only mention 401 or Unauthorized in their text count too.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) && he.Status == http.StatusUnauthorized {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized")
}
