// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package syncapi is the HTTP client for the sync server.
//
// Every endpoint speaks JSON and wraps its payload in a Response envelope
// {success, data, error}. Sync payloads carry client-encrypted field values;
// this package moves them around and never looks inside.
//
// Non-2xx statuses surface as *HTTPError whose text is "HTTP <status>:
// <statusText>". Callers detect expired credentials with IsUnauthorized.
package syncapi
