package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datatap/datatap/internal/model"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the gateway request log",
	}

	cmd.AddCommand(newLogsListCmd())
	cmd.AddCommand(newLogsClearCmd())

	return cmd
}

// ---------- logs list ----------

func newLogsListCmd() *cobra.Command {
	var (
		filter     model.RequestLogFilter
		since      time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show recent gateway requests, newest first",
		Example: `  datatap logs list
  datatap logs list --status 403 --since 1h
  datatap logs list --key 4 --limit 200 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if since > 0 {
				at := time.Now().Add(-since).UTC()
				filter.Since = &at
			}
			filter.Method = strings.ToUpper(filter.Method)

			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.store.ListRequestLogs(ctx, filter)
			if err != nil {
				return fmt.Errorf("list request logs: %w", err)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, logs)
			}
			if len(logs) == 0 {
				fmt.Fprintln(w, "No matching requests.")
				return nil
			}
			fmt.Fprintf(w, "%-19s %-6s %-32s %-6s %-8s %-5s %-15s %s\n", "TIME", "METHOD", "PATH", "STATUS", "LATENCY", "KEY", "IP", "ERROR")
			for _, l := range logs {
				key := "-"
				if l.APIKeyID != nil {
					key = fmt.Sprint(*l.APIKeyID)
				}
				fmt.Fprintf(w, "%-19s %-6s %-32s %-6d %-8s %-5s %-15s %s\n",
					l.CreatedAt.Local().Format("2006-01-02 15:04:05"), l.Method, l.Path, l.StatusCode,
					fmt.Sprintf("%dms", l.LatencyMs), key, l.IP, l.Error)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&filter.APIKeyID, "key", 0, "Only requests made with this key id")
	cmd.Flags().Int64Var(&filter.EndpointID, "endpoint", 0, "Only requests resolved to this endpoint id")
	cmd.Flags().IntVar(&filter.StatusCode, "status", 0, "Only requests answered with this status code")
	cmd.Flags().StringVar(&filter.Method, "method", "", "Only requests with this HTTP method")
	cmd.Flags().DurationVar(&since, "since", 0, "Only requests newer than this (e.g. 30m, 24h)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum rows to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- logs clear ----------

func newLogsClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every request log entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("this deletes the whole request log; re-run with --yes to confirm")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.ClearRequestLogs(ctx)
			if err != nil {
				return fmt.Errorf("clear request logs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d request log entries\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}
