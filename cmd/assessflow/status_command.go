package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialClient()
			if err != nil {
				return reportOffline(cmd, ctx, jsonOutput, err)
			}
			defer client.Close()

			resp, err := client.Status()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp.Status)
			}

			st := resp.Status
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:    %s (pid %d)\n", runningLabel(st.Running), st.PID)
			if !st.StartedAt.IsZero() {
				fmt.Fprintf(out, "Started:   %s\n", st.StartedAt.Local().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Store:     %s\n", st.Store)
			fmt.Fprintf(out, "Lock:      %s\n", st.LockPath)
			fmt.Fprintf(out, "Active:    %d of %d\n", st.Queue.Active, st.Queue.Capacity)
			fmt.Fprintf(out, "Queued:    %d\n", st.Queue.Pooled)
			if st.Queue.LastError != "" {
				fmt.Fprintf(out, "Last tick error: %s\n", st.Queue.LastError)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

// reportOffline explains a failed dial, noting a live pid when the socket
// is unreachable but a daemon process still exists.
func reportOffline(cmd *cobra.Command, ctx *commandContext, jsonOutput bool, dialErr error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return dialErr
	}
	pid, alive := readPIDFile(cfg.PIDPath())
	if jsonOutput {
		return writeJSON(cmd, map[string]any{
			"running": false,
			"pid":     pid,
			"alive":   alive,
			"error":   dialErr.Error(),
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Daemon:    not reachable")
	if alive {
		fmt.Fprintf(out, "Process %d is alive but the socket is unavailable\n", pid)
	}
	return dialErr
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
