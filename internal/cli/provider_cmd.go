// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/provider"
	"github.com/jeranaias/rigchat/internal/util"
)

func runProvider(ctx context.Context, e *env) error {
	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	id := e.args.Options["id"]
	if len(e.args.Rest) > 0 {
		id = e.args.Rest[0]
	}

	switch e.args.Subcommand {
	case "", "list", "ls":
		return providerList(e, a)
	case "add":
		return wrap("provider", "add", providerAdd(e, a, id))
	case "remove", "rm":
		return wrap("provider", "remove", providerRemove(ctx, e, a, id))
	case "models":
		return wrap("provider", "models", providerModels(ctx, e, a, id))
	case "disable", "enable":
		if len(e.args.Rest) < 2 {
			return usageErr("", "usage: rigchat provider %s ID MODEL", e.args.Subcommand)
		}
		return wrap("provider", e.args.Subcommand, setModelDisabled(e, a, id, e.args.Rest[1], e.args.Subcommand == "disable"))
	default:
		return usageErr("Subcommands: add, list, remove, models, disable, enable", "unknown provider subcommand %q", e.args.Subcommand)
	}
}

func providerList(e *env, a *app.App) error {
	list := a.Providers.Get().List()
	if e.args.JSON {
		// SECURITY: keys are never printed
		redacted := make([]chat.ProviderInstance, len(list))
		for i, inst := range list {
			inst.Config.APIKey = redactKey(inst.Config.APIKey)
			redacted[i] = inst
		}
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(redacted)
	}

	if len(list) == 0 {
		fmt.Fprintln(e.out, DimStyle.Render("No provider instances. Add one with: rigchat provider add ID --base-url URL --api-key KEY"))
		return nil
	}
	fmt.Fprintln(e.out, TitleStyle.Render("Provider instances"))
	for _, inst := range list {
		known := inst.Config.MatchedProvider
		if known == "" {
			known = inst.ProviderType
		}
		fmt.Fprintf(e.out, "%s %s %s %s\n",
			util.PadWidth(inst.ID, 16),
			util.PadWidth(inst.Config.BaseURL, 40),
			DimStyle.Render(util.PadWidth(known, 12)),
			ValueStyle.Render(orDash(inst.Config.Model)))
	}
	return nil
}

func providerAdd(e *env, a *app.App, id string) error {
	if id == "" {
		return usageErr("usage: rigchat provider add ID [--type openai|ollama] --base-url URL [--api-key KEY] [--model ID]", "missing instance id")
	}
	opts := e.args.Options
	cfg := chat.ProviderInstanceConfig{
		BaseURL: strings.TrimRight(opts["base-url"], "/"),
		APIKey:  opts["api-key"],
		Model:   e.args.Model,
	}
	providerType := strings.ToLower(opts["type"])
	switch providerType {
	case "", provider.TypeOpenAI:
		providerType = provider.TypeOpenAI
		if cfg.BaseURL == "" {
			cfg.BaseURL = provider.DefaultOpenAIBaseURL
		}
	case provider.TypeOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = provider.DefaultOllamaBaseURL
		}
	default:
		return usageErr("--type is openai or ollama", "unsupported provider type %q", providerType)
	}
	if cfg.APIKey == "" && providerType == provider.TypeOpenAI && IsTTY() {
		key, err := ReadPassphrase("API key (blank for none): ")
		if err != nil {
			return err
		}
		cfg.APIKey = key
	}
	cfg.MatchedProvider = provider.DetectKnownProvider(cfg)

	name := opts["name"]
	if name == "" {
		name = id
		if kp, ok := provider.KnownProviderMeta(cfg.MatchedProvider); ok {
			name = kp.Name
		}
	}

	inst := chat.ProviderInstance{ID: id, Name: name, ProviderType: providerType, Config: cfg}
	if _, err := a.Registry.ForInstance(inst, ""); err != nil {
		return err
	}
	a.Providers.Update(func(p chat.ProviderInstances) chat.ProviderInstances {
		out := make(chat.ProviderInstances, len(p)+1)
		for k, v := range p {
			out[k] = v
		}
		out[id] = inst
		return out
	})
	fmt.Fprintln(e.out, SuccessStyle.Render("Added provider "+id+"."))
	if cfg.MatchedProvider != "" {
		fmt.Fprintln(e.out, DimStyle.Render("Recognised as "+name+"."))
	}
	return nil
}

func providerRemove(ctx context.Context, e *env, a *app.App, id string) error {
	if _, ok := a.Providers.Get()[id]; !ok {
		return fmt.Errorf("Provider instance not found: %s", id)
	}
	a.Providers.Update(func(p chat.ProviderInstances) chat.ProviderInstances {
		out := make(chat.ProviderInstances, len(p))
		for k, v := range p {
			if k != id {
				out[k] = v
			}
		}
		return out
	})
	if err := a.Models.ClearInstance(ctx, id); err != nil {
		a.Logger.Warn("failed to clear model cache", "instance", id, "error", err)
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Removed provider "+id+"."))
	return nil
}

func providerModels(ctx context.Context, e *env, a *app.App, id string) error {
	if id == "" {
		sel, err := a.DefaultSelection()
		if err != nil {
			return err
		}
		id = sel.InstanceID
	}
	models, err := a.ListModels(ctx, id, e.args.Options["refresh"] != "")
	if err != nil {
		return err
	}
	inst := a.Providers.Get()[id]
	hidden := a.DisabledModels.Get()[id]

	if e.args.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	fmt.Fprintln(e.out, TitleStyle.Render(fmt.Sprintf("Models of %s (%d)", id, len(models))))
	for _, m := range models {
		tags := []string{}
		if m.SupportsWebSearch {
			tags = append(tags, "web")
		}
		if slices.Contains(hidden, m.ID) || provider.IsModelDisabledByDefault(inst.Config.MatchedProvider, m.ID) {
			tags = append(tags, "hidden")
		}
		ctxWin := ""
		if m.ContextWindow > 0 {
			ctxWin = fmt.Sprintf("%dk", m.ContextWindow/1000)
		}
		fmt.Fprintf(e.out, "%s %s %s\n",
			util.PadWidth(m.ID, 44),
			DimStyle.Render(util.PadWidth(ctxWin, 6)),
			WarningStyle.Render(strings.Join(tags, ",")))
	}
	return nil
}

func setModelDisabled(e *env, a *app.App, instanceID, modelID string, disabled bool) error {
	if _, ok := a.Providers.Get()[instanceID]; !ok {
		return fmt.Errorf("Provider instance not found: %s", instanceID)
	}
	a.DisabledModels.Update(func(d chat.DisabledModels) chat.DisabledModels {
		out := make(chat.DisabledModels, len(d)+1)
		for k, v := range d {
			out[k] = v
		}
		ids := slices.DeleteFunc(slices.Clone(out[instanceID]), func(s string) bool { return s == modelID })
		if disabled {
			ids = append(ids, modelID)
		}
		out[instanceID] = ids
		return out
	})
	verb := "Enabled"
	if disabled {
		verb = "Disabled"
	}
	fmt.Fprintf(e.out, "%s %s on %s.\n", verb, modelID, instanceID)
	return nil
}

// redactKey keeps the first four characters of an API key.
func redactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 8)
}
