// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry aggregates token usage from saved chats.
//
// Nothing is collected or sent anywhere: reports are computed on demand
// from the usage and metrics recorded on each assistant message.
//
// # Usage
//
//	report := telemetry.Summarize(chats, telemetry.Window{Days: 7})
//	for _, m := range report.Models { ... }
package telemetry
