package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/nugget/think-ai-agent/internal/usage"
)

const usageUsage = "usage: think usage [-period today|yesterday|week|month|all|24h] [-chat ID]"

// runUsage handles "think usage", reporting the tokens spent on model
// calls for a period or for one chat.
func runUsage(ctx context.Context, stdout, stderr io.Writer, opts options, args []string) error {
	period, chatID := "today", ""
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-period" && i+1 < len(args):
			period = args[i+1]
			i++
		case args[i] == "-chat" && i+1 < len(args):
			chatID = args[i+1]
			i++
		default:
			return errors.New(usageUsage)
		}
	}

	a, err := openApp(opts.configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if chatID != "" {
		sum, err := a.usage.ChatSummary(ctx, chatID)
		if err != nil {
			return err
		}
		if opts.outputFmt == "json" {
			return json.NewEncoder(stdout).Encode(map[string]any{"chat_id": chatID, "usage": sum})
		}
		fmt.Fprintf(stdout, "Chat %s: %d calls, %s in / %s out\n",
			chatID, sum.Calls, usage.FormatTokens(sum.InputTokens), usage.FormatTokens(sum.OutputTokens))
		return nil
	}

	report, err := a.usage.Report(ctx, period)
	if err != nil {
		return err
	}
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(stdout, "Usage (%s): %d calls, %s in / %s out\n", report.Period, report.Total.Calls,
		usage.FormatTokens(report.Total.InputTokens), usage.FormatTokens(report.Total.OutputTokens))
	if report.Total.Calls == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "MODEL\tCALLS\tIN\tOUT")
	writeUsageRows(tw, report.ByModel)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "PURPOSE\tCALLS\tIN\tOUT")
	writeUsageRows(tw, report.ByPurpose)
	return tw.Flush()
}

func writeUsageRows(w io.Writer, rows map[string]usage.Summary) {
	for _, key := range slices.Sorted(maps.Keys(rows)) {
		sum := rows[key]
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", key, sum.Calls,
			usage.FormatTokens(sum.InputTokens), usage.FormatTokens(sum.OutputTokens))
	}
}
