// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jeranaias/rigchat/internal/telemetry"
	"github.com/jeranaias/rigchat/internal/util"
)

func runStats(ctx context.Context, e *env) error {
	days := 30
	if v := e.args.Options["days"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return usageErr("usage: rigchat stats [--days N]  (0 = all time)", "invalid --days %q", v)
		}
		days = n
	}

	a, err := e.openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	r := telemetry.Summarize(a.RecentChats(), telemetry.Window{Days: days})
	if e.args.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(e, r, days)
	return nil
}

func printReport(e *env, r telemetry.Report, days int) {
	period := "all time"
	if days > 0 {
		period = fmt.Sprintf("last %d days", days)
	}
	fmt.Fprintln(e.out, TitleStyle.Render("Usage, "+period))
	fmt.Fprintln(e.out, RenderField("Answers", strconv.Itoa(r.Answers)))
	fmt.Fprintln(e.out, RenderField("Chats", strconv.Itoa(r.Chats)))
	fmt.Fprintln(e.out, RenderField("Tokens in", strconv.Itoa(r.Tokens.Input)))
	fmt.Fprintln(e.out, RenderField("Tokens out", strconv.Itoa(r.Tokens.Output)))
	if r.Answers == 0 {
		return
	}

	fmt.Fprintln(e.out)
	fmt.Fprintln(e.out, SectionStyle.Render("By model"))
	for _, m := range r.Models {
		rate := "-"
		if m.AvgTokensPerSecond > 0 {
			rate = fmt.Sprintf("%.1f tok/s", m.AvgTokensPerSecond)
		}
		fmt.Fprintf(e.out, "  %s %8d answers %10d tokens  %s\n",
			util.PadWidth(util.TruncateWidth(m.InstanceID+"/"+m.Model, 40), 40), m.Answers, m.Tokens.Total(), DimStyle.Render(rate))
	}

	fmt.Fprintln(e.out)
	fmt.Fprintln(e.out, SectionStyle.Render("By day"))
	for _, d := range r.Daily {
		fmt.Fprintf(e.out, "  %s %8d answers %10d tokens\n", d.Date.Format("2006-01-02"), d.Answers, d.Tokens.Total())
	}

	if len(r.TopChats) > 0 {
		fmt.Fprintln(e.out)
		fmt.Fprintln(e.out, SectionStyle.Render("Largest chats"))
		for _, c := range r.TopChats {
			fmt.Fprintf(e.out, "  %s %s %10d tokens\n", DimStyle.Render(shortID(c.ChatID)), util.PadWidth(util.TruncateWidth(c.Title, 40), 40), c.Tokens)
		}
	}
}
