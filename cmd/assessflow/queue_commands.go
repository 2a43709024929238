package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"assessflow/internal/ipc"
	"assessflow/internal/queue"
	"assessflow/internal/workflow"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the scheduling queue",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workflow counts and the admission order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueStatus()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Queue)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderQueueStatus(resp.Queue, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

func renderQueueStatus(st queue.Status, now time.Time) string {
	countRows := make([][]string, 0, len(workflow.AllStatuses()))
	for _, status := range workflow.AllStatuses() {
		countRows = append(countRows, []string{string(status), strconv.Itoa(st.Counts[status])})
	}
	out := renderTable([]string{"Status", "Count"}, countRows, []columnKind{colLabel, colNumber}) + "\n"
	out += fmt.Sprintf("Active %d of %d, %d queued\n", st.Active, st.Capacity, st.Pooled)
	if !st.LastTick.IsZero() {
		out += fmt.Sprintf("Last tick %s ago\n", now.Sub(st.LastTick).Round(time.Second))
	}
	if st.LastError != "" {
		out += fmt.Sprintf("Last tick error: %s\n", st.LastError)
	}
	if len(st.Next) == 0 {
		return out
	}

	rows := make([][]string, 0, len(st.Next))
	for i, entry := range st.Next {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			entry.WorkflowID,
			entry.TherapistID,
			entry.AssessmentType,
			strconv.Itoa(entry.TherapistLoad),
			strconv.FormatFloat(entry.Score, 'f', 2, 64),
			formatAge(now, entry.CreatedAt),
		})
	}
	out += "\n" + renderTable(
		[]string{"#", "Workflow", "Therapist", "Type", "Load", "Score", "Age"},
		rows,
		[]columnKind{colNumber, colText, colText, colLabel, colNumber, colNumber, colNumber},
	) + "\n"
	return out
}

func formatAge(now, then time.Time) string {
	if then.IsZero() {
		return "-"
	}
	age := now.Sub(then)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
