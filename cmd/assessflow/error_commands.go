package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"assessflow/internal/ipc"
	"assessflow/internal/recovery"
)

func newErrorsCommand(ctx *commandContext) *cobra.Command {
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect and resolve recorded workflow errors",
	}

	errorsCmd.AddCommand(newErrorsListCommand(ctx))
	errorsCmd.AddCommand(newErrorsSummaryCommand(ctx))
	errorsCmd.AddCommand(newErrorsResolveCommand(ctx))
	errorsCmd.AddCommand(newErrorsClearCommand(ctx))

	return errorsCmd
}

func newErrorsListCommand(ctx *commandContext) *cobra.Command {
	var workflowID string
	var unresolvedOnly bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List error records with their recovery attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ErrorList(strings.TrimSpace(workflowID))
				if err != nil {
					return err
				}
				records := resp.Errors
				if unresolvedOnly {
					records = filterUnresolved(records)
				}
				if jsonOutput {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No errors recorded")
					return nil
				}
				fmt.Fprintln(out, renderErrorTable(records))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "Only list errors for this workflow")
	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "Hide resolved records")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

func filterUnresolved(records []recovery.ErrorRecord) []recovery.ErrorRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.ResolvedAt == nil {
			out = append(out, rec)
		}
	}
	return out
}

func renderErrorTable(records []recovery.ErrorRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		resolved := "-"
		if rec.ResolvedAt != nil {
			resolved = formatTimestamp(rec.ResolvedAt)
		}
		rows = append(rows, []string{
			rec.ID,
			rec.WorkflowID,
			rec.StageID,
			rec.Category.String(),
			rec.Severity.String(),
			strconv.Itoa(len(rec.Attempts)),
			resolved,
			rec.Message,
		})
	}
	return renderTable(
		[]string{"ID", "Workflow", "Stage", "Category", "Severity", "Attempts", "Resolved", "Message"},
		rows,
		[]columnKind{colText, colText, colLabel, colLabel, colLabel, colNumber, colText, colText},
	)
}

func newErrorsSummaryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show error counts by category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ErrorSummary()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Summary)
				}
				s := resp.Summary
				keys := make([]string, 0, len(s.Counts))
				for key := range s.Counts {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				rows := make([][]string, 0, len(keys))
				for _, key := range keys {
					rows = append(rows, []string{key, strconv.Itoa(s.Counts[key])})
				}
				out := cmd.OutOrStdout()
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Category", "Errors"}, rows, []columnKind{colLabel, colNumber}))
				}
				fmt.Fprintf(out, "Recovery attempts: %d\n", s.RecoveryAttempts)
				fmt.Fprintf(out, "Active issues:     %d\n", s.ActiveIssues)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

func newErrorsResolveCommand(ctx *commandContext) *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "resolve <error-id>",
		Short: "Mark an error record resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.ErrorResolve(id, strings.TrimSpace(notes)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Error %s resolved\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Resolution notes")
	return cmd
}

func newErrorsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop resolved error records from the daemon's memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ErrorClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared resolved errors for %d workflow(s)\n", resp.Cleared)
				return nil
			})
		},
	}
}
