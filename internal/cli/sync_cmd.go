// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/app"
	"github.com/jeranaias/rigchat/internal/syncer"
)

// syncStatus is the --json output of sync status.
type syncStatus struct {
	Authenticated bool       `json:"authenticated"`
	UserID        string     `json:"userId,omitempty"`
	ServerURL     string     `json:"serverUrl,omitempty"`
	MachineID     string     `json:"machineId"`
	TokenExpires  *time.Time `json:"tokenExpires,omitempty"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
}

func runSync(ctx context.Context, e *env) error {
	sub := e.args.Subcommand
	if sub == "" {
		sub = "status"
	}

	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	switch sub {
	case "wallet":
		return wrap("sync", "wallet", syncWallet(ctx, e, a))
	case "login":
		return wrap("sync", "login", syncLogin(ctx, e, a))
	case "logout":
		a.Sync.Logout(ctx)
		fmt.Fprintln(e.out, SuccessStyle.Render("Logged out."))
		return nil
	case "status":
		return syncShowStatus(e, a)
	case "pull":
		if err := a.Pull(ctx); err != nil {
			return wrap("sync", "pull", err)
		}
		fmt.Fprintln(e.out, SuccessStyle.Render("Pulled settings and changes."))
		return nil
	case "push":
		stats, err := a.Push(ctx)
		fmt.Fprintf(e.out, "Pushed %d chats, %d messages.\n", stats.Threads, stats.Messages)
		return wrap("sync", "push", err)
	case "now":
		if err := a.SyncNow(ctx); err != nil {
			return wrap("sync", "now", err)
		}
		fmt.Fprintln(e.out, SuccessStyle.Render("Up to date."))
		return nil
	default:
		return usageErr("Subcommands: wallet, login, logout, status, pull, push, now", "unknown sync subcommand %q", sub)
	}
}

func serverURL(e *env, a *app.App) (string, error) {
	url := e.args.Options["server"]
	if url == "" {
		url = a.Sync.SyncSettings().ServerURL
	}
	if url == "" {
		url = e.cfg.Sync.ServerURL
	}
	if url == "" {
		return "", usageErr("Pass --server URL or set sync.server_url.", "no sync server configured")
	}
	return strings.TrimRight(url, "/"), nil
}

func syncWallet(ctx context.Context, e *env, a *app.App) error {
	url, err := serverURL(e, a)
	if err != nil {
		return err
	}
	passphrase, err := ReadNewPassphrase()
	if err != nil {
		return err
	}

	w, err := a.Sync.GenerateWallet(ctx, url, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Account created."))
	fmt.Fprintln(e.out, RenderField("User ID", w.UserID))
	fmt.Fprintln(e.out, WarningStyle.Render("Keep the user ID and passphrase. The passphrase cannot be recovered; without it synced data cannot be decrypted."))
	fmt.Fprintln(e.out, DimStyle.Render("Sign in with: rigchat sync login --user "+w.UserID))
	return nil
}

func syncLogin(ctx context.Context, e *env, a *app.App) error {
	url, err := serverURL(e, a)
	if err != nil {
		return err
	}
	user := e.args.Options["user"]
	if user == "" {
		user = a.Sync.SyncSettings().UserID
	}
	if user == "" {
		return usageErr("Pass --user ID (from 'rigchat sync wallet').", "no user id")
	}
	passphrase, err := ReadPassphrase("Passphrase: ")
	if err != nil {
		return err
	}

	if err := a.Sync.Login(ctx, url, user, passphrase); err != nil {
		return err
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Logged in as "+user+"."))
	fmt.Fprintln(e.out, DimStyle.Render("Uploading local chats..."))
	a.Sync.WaitForUploads()
	if err := a.Pull(ctx); err != nil {
		return fmt.Errorf("initial pull: %w", err)
	}
	fmt.Fprintln(e.out, SuccessStyle.Render("Sync is set up."))
	return nil
}

func syncShowStatus(e *env, a *app.App) error {
	auth := a.Sync.AuthState()
	settings := a.Sync.SyncSettings()

	st := syncStatus{
		Authenticated: auth.IsAuthenticated,
		UserID:        auth.UserID,
		ServerURL:     auth.ServerURL,
		MachineID:     a.Sync.MachineID(),
	}
	if st.UserID == "" {
		st.UserID = settings.UserID
	}
	if st.ServerURL == "" {
		st.ServerURL = settings.ServerURL
	}
	if exp, ok := syncer.TokenExpiry(auth.Tokens); ok {
		st.TokenExpires = &exp
	}
	if ms := a.Sync.LastSyncTimestamp(); ms > 0 {
		t := time.UnixMilli(ms)
		st.LastSync = &t
	}

	if e.args.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintln(e.out, TitleStyle.Render("Sync"))
	state := "off"
	if st.Authenticated {
		state = "on"
	}
	fmt.Fprintln(e.out, RenderField("Session", RenderStatus(state)))
	fmt.Fprintln(e.out, RenderField("User ID", orDash(st.UserID)))
	fmt.Fprintln(e.out, RenderField("Server", orDash(st.ServerURL)))
	fmt.Fprintln(e.out, RenderField("Machine ID", st.MachineID))
	if st.TokenExpires != nil {
		fmt.Fprintln(e.out, RenderField("Token expires", st.TokenExpires.Local().Format(time.RFC1123)))
	}
	if st.LastSync != nil {
		fmt.Fprintln(e.out, RenderField("Last sync", st.LastSync.Local().Format(time.RFC1123)))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
