// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jeranaias/rigchat/internal/chat"
)

// =============================================================================
// KNOWN PROVIDER METADATA
// =============================================================================

// ModelOverride replaces the non-zero fields of a listed model.
type ModelOverride struct {
	Name             string
	Description      string
	ContextWindow    int
	Deprecated       bool
	InputModalities  []string
	OutputModalities []string
}

// KnownProvider is static metadata for a recognised hosted API.
type KnownProvider struct {
	ID                string
	Name              string
	DefaultTitleModel string
	DisabledModels    []string
	DisabledPatterns  []*regexp.Regexp
	ModelOverrides    map[string]ModelOverride
	BaseURLPatterns   []*regexp.Regexp
	APIKeyPrefixes    []string
}

var (
	textOnly  = []string{"text"}
	textImage = []string{"text", "image"}
	imageOnly = []string{"image"}
)

// knownProviders is ordered; detection returns the first match.
var knownProviders = []KnownProvider{
	{
		ID:                "openai",
		Name:              "OpenAI",
		DefaultTitleModel: "gpt-4.1-nano",
		DisabledModels: []string{
			"gpt-3.5-turbo-0125",
			"gpt-3.5-turbo-1106",
			"gpt-3.5-turbo-instruct-0914",
			"gpt-4-0613",
			"gpt-4-turbo-2024-04-09",
			"gpt-4o-2024-05-13",
			"gpt-4o-mini-2024-07-18",
			"o1-preview-2024-09-12",
			"o1-mini-2024-09-12",
			"o1-2024-12-17",
			"o1-pro-2025-03-19",
			"o4-mini-2025-04-16",
			"o3-mini-2025-01-31",
			"o3-2025-04-16",
			"o3-pro-2025-06-10",
			"gpt-4.1-2025-04-14",
			"gpt-4.1-nano-2025-04-14",
			"gpt-4.1-mini-2025-04-14",
			"gpt-4o-2024-08-06",
			"gpt-4o-2024-11-20",
			"gpt-3.5-turbo-16k",
			"gpt-4.5-preview-2025-02-27",
		},
		DisabledPatterns: compileAll(
			`^gpt-.*-search-preview.*$`,
			`^gpt-.*-audio.*$`,
			`^gpt-.*-realtime.*$`,
			`^gpt-.*-tts$`,
			`^gpt-.*-preview.*$`,
			`^gpt-.*-transcribe.*$`,
			`^gpt-.*-instruct.*$`,
			`^o1-preview.*$`,
			`^whisper-.*$`,
			`^codex-.*$`,
			`^davinci-.*$`,
			`^babbage-.*$`,
			`^omni-.*$`,
			`^tts-.*$`,
			`^text-embedding-.*$`,
		),
		ModelOverrides: map[string]ModelOverride{
			"chatgpt-4o-latest": {Name: "ChatGPT 4o", Description: "GPT-4o model used in ChatGPT", ContextWindow: 128000, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-3.5-turbo":     {Name: "GPT-3.5 Turbo", Description: "Legacy GPT model for cheaper chat and non-chat tasks", ContextWindow: 16385, InputModalities: textOnly, OutputModalities: textOnly},
			"gpt-4":             {Name: "GPT-4", Description: "An older high-intelligence GPT model", ContextWindow: 8192, InputModalities: textOnly, OutputModalities: textOnly},
			"gpt-4-turbo":       {Name: "GPT-4 Turbo", Description: "An older high-intelligence GPT model", ContextWindow: 128000, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-4.1":           {Name: "GPT-4.1", Description: "Flagship GPT model for complex tasks", ContextWindow: 1047576, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-4.1-mini":      {Name: "GPT-4.1 mini", Description: "Balanced for intelligence, speed, and cost", ContextWindow: 1047576, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-4.1-nano":      {Name: "GPT-4.1 nano", Description: "Fastest, most cost-effective GPT-4.1 model", ContextWindow: 1047576, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-4o":            {Name: "GPT-4o", Description: "Fast, intelligent, flexible GPT model", ContextWindow: 128000, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-4o-mini":       {Name: "GPT-4o mini", Description: "Fast, affordable small model for focused tasks", ContextWindow: 128000, InputModalities: textImage, OutputModalities: textOnly},
			"o1-pro":            {Name: "o1-pro", Description: "Version of o1 with more compute for better responses", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"o1":                {Name: "o1", Description: "Previous full o-series reasoning model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"o1-mini":           {Name: "o1-mini", Description: "A small model alternative to o1", ContextWindow: 128000, Deprecated: true, InputModalities: textOnly, OutputModalities: textOnly},
			"o3-pro":            {Name: "o3-pro", Description: "Version of o3 with more compute for better responses", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"o3":                {Name: "o3", Description: "Our most powerful reasoning model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"o3-mini":           {Name: "o3-mini", Description: "A small model alternative to o3", ContextWindow: 200000, InputModalities: textOnly, OutputModalities: textOnly},
			"o4-mini":           {Name: "o4-mini", Description: "Faster, more affordable reasoning model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"gpt-image-1":       {Name: "GPT Image 1", Description: "State-of-the-art image generation model", InputModalities: textImage, OutputModalities: imageOnly},
			"dall-e-3":          {Name: "DALL-E 3", Description: "Previous generation image generation model", InputModalities: textOnly, OutputModalities: imageOnly},
			"dall-e-2":          {Name: "DALL-E 2", Description: "Our first image generation model", InputModalities: textOnly, OutputModalities: imageOnly},
		},
		BaseURLPatterns: compileAll(`https?://api\.openai\.com`),
		APIKeyPrefixes:  []string{"sk-proj-"},
	},
	{
		ID:                "openrouter",
		Name:              "OpenRouter",
		DefaultTitleModel: "meta-llama/llama-3.3-8b-instruct:free",
		BaseURLPatterns:   compileAll(`https?://openrouter\.ai/api`),
		APIKeyPrefixes:    []string{"sk-or-v1-"},
	},
	{
		ID:                "anthropic",
		Name:              "Anthropic",
		DefaultTitleModel: "claude-3-haiku-20240307",
		DisabledModels:    []string{"claude-3-5-sonnet-20240620"},
		ModelOverrides: map[string]ModelOverride{
			"claude-opus-4-20250514":     {Name: "Claude Opus 4", Description: "Our most capable model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-sonnet-4-20250514":   {Name: "Claude Sonnet 4", Description: "High-performance model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-3-7-sonnet-20250219": {Name: "Claude 3.7 Sonnet", Description: "High-performance model with early extended thinking", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-3-5-sonnet-20241022": {Name: "Claude 3.5 Sonnet", Description: "Our previous intelligent model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-3-5-haiku-20241022":  {Name: "Claude 3.5 Haiku", Description: "Our fastest model", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-3-opus-20240229":     {Name: "Claude 3 Opus", Description: "Powerful model for complex tasks", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
			"claude-3-haiku-20240307":    {Name: "Claude 3 Haiku", Description: "Fast and compact model for near-instant responsiveness", ContextWindow: 200000, InputModalities: textImage, OutputModalities: textOnly},
		},
		BaseURLPatterns: compileAll(`https?://api\.anthropic\.com`),
		APIKeyPrefixes:  []string{"sk-ant-api"},
	},
	{
		ID:                "google-openai",
		Name:              "Google (OpenAI compatible)",
		DefaultTitleModel: "gemini-2.0-flash",
		DisabledPatterns:  compileAll(`^embedding-.*$`, `^text-embedding-.*$`, `^veo-.*$`),
		BaseURLPatterns:   compileAll(`https?://generativelanguage\.googleapis.com/v1beta/openai/`),
	},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// =============================================================================
// LOOKUPS
// =============================================================================

// KnownProviderMeta returns the metadata for id.
func KnownProviderMeta(id string) (KnownProvider, bool) {
	for _, kp := range knownProviders {
		if kp.ID == id {
			return kp, true
		}
	}
	return KnownProvider{}, false
}

// KnownProviders returns all known providers in detection order.
func KnownProviders() []KnownProvider {
	return append([]KnownProvider(nil), knownProviders...)
}

// DetectKnownProvider identifies a hosted API from the base URL or the API
// key prefix. It returns "" when nothing matches.
func DetectKnownProvider(cfg chat.ProviderInstanceConfig) string {
	for _, kp := range knownProviders {
		if cfg.BaseURL != "" {
			for _, re := range kp.BaseURLPatterns {
				if re.MatchString(cfg.BaseURL) {
					return kp.ID
				}
			}
		}
		if cfg.APIKey != "" {
			for _, prefix := range kp.APIKeyPrefixes {
				if strings.HasPrefix(cfg.APIKey, prefix) {
					return kp.ID
				}
			}
		}
	}
	return ""
}

// IsModelDisabledByDefault reports whether modelID is hidden unless the
// user enables it.
func IsModelDisabledByDefault(providerID, modelID string) bool {
	kp, ok := KnownProviderMeta(providerID)
	if !ok {
		return false
	}
	for _, id := range kp.DisabledModels {
		if id == modelID {
			return true
		}
	}
	for _, re := range kp.DisabledPatterns {
		if re.MatchString(modelID) {
			return true
		}
	}
	return false
}

// DefaultTitleModel returns the cheap model used for chat titles, or "".
func DefaultTitleModel(providerID string) string {
	kp, _ := KnownProviderMeta(providerID)
	return kp.DefaultTitleModel
}

// ApplyModelOverrides merges the provider's overrides into models and
// appends overridden models the listing did not include. models is not
// modified.
func ApplyModelOverrides(providerID string, models []ModelInfo) []ModelInfo {
	kp, ok := KnownProviderMeta(providerID)
	if !ok || len(kp.ModelOverrides) == 0 {
		return models
	}

	merged := make([]ModelInfo, len(models), len(models)+len(kp.ModelOverrides))
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if o, ok := kp.ModelOverrides[m.ID]; ok {
			m = o.apply(m)
		}
		merged[i] = m
		seen[m.ID] = true
	}

	// map order is random; keep appended entries stable
	missing := make([]string, 0)
	for id := range kp.ModelOverrides {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		merged = append(merged, kp.ModelOverrides[id].apply(ModelInfo{ID: id, Name: id}))
	}
	return merged
}

func (o ModelOverride) apply(m ModelInfo) ModelInfo {
	if o.Name != "" {
		m.Name = o.Name
	}
	if o.Description != "" {
		m.Description = o.Description
	}
	if o.ContextWindow != 0 {
		m.ContextWindow = o.ContextWindow
	}
	if o.Deprecated {
		m.Deprecated = true
	}
	if o.InputModalities != nil {
		m.InputModalities = o.InputModalities
	}
	if o.OutputModalities != nil {
		m.OutputModalities = o.OutputModalities
	}
	return m
}
