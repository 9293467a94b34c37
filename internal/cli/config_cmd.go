// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/rigchat/internal/config"
)

func runConfig(e *env) error {
	switch e.args.Subcommand {
	case "", "show":
		return configShow(e)
	case "get":
		if len(e.args.Rest) != 1 {
			return usageErr("usage: rigchat config get KEY", "expected one key")
		}
		return configGet(e, e.args.Rest[0])
	case "set":
		if len(e.args.Rest) != 2 {
			return usageErr("usage: rigchat config set KEY VALUE", "expected a key and a value")
		}
		return wrap("config", "set", configSet(e, e.args.Rest[0], e.args.Rest[1]))
	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(e.out, k)
		}
		return nil
	case "path":
		fmt.Fprintln(e.out, e.cfgPath)
		return nil
	case "init":
		return wrap("config", "init", configInit(e))
	default:
		return usageErr("Subcommands: show, get, set, keys, path, init", "unknown config subcommand %q", e.args.Subcommand)
	}
}

func configShow(e *env) error {
	if e.args.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(e.cfg.Redacted())
	}
	fmt.Fprintln(e.out, DimStyle.Render("# "+e.cfgPath))
	fmt.Fprint(e.out, e.cfg.String())
	return nil
}

func configGet(e *env, key string) error {
	v, err := e.cfg.Redacted().Get(key)
	if err != nil {
		return usageErr("Run 'rigchat config keys' for valid keys.", "%v", err)
	}
	if e.args.JSON {
		return json.NewEncoder(e.out).Encode(v)
	}
	fmt.Fprintln(e.out, v)
	return nil
}

// configSet edits the file on disk, not the environment-adjusted config,
// so overrides from RIGCHAT_* variables are not written back.
func configSet(e *env, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(e.cfgPath); err == nil {
		if err := config.LoadTOML(cfg, e.cfgPath); err != nil {
			return err
		}
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveTOML(cfg, e.cfgPath); err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(key), "api_key") {
		value = "****"
	}
	fmt.Fprintln(e.out, SuccessStyle.Render(fmt.Sprintf("%s = %s", key, value)))
	return nil
}

func configInit(e *env) error {
	if _, err := os.Stat(e.cfgPath); err == nil {
		if e.args.Options["force"] == "" {
			return errors.New(e.cfgPath + " already exists (use --force to overwrite)")
		}
	}
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.SaveTOML(config.Default(), e.cfgPath); err != nil {
		return err
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Wrote "+e.cfgPath))
	return nil
}
