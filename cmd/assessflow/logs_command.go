package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"assessflow/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var eventsOnly bool
	var workflowID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log or event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "assessflow.log")
			if eventsOnly {
				path = filepath.Join(cfg.EventArchiveDir(), "events.jsonl")
			}

			runCtx := cmd.Context()
			if runCtx == nil {
				runCtx = context.Background()
			}
			runCtx, stop := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return streamLog(runCtx, cmd, afero.NewOsFs(), path, lines, follow, logs.Containing(workflowID))
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().BoolVar(&eventsOnly, "events", false, "Read the event journal instead of the log file")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Only print lines mentioning this workflow")
	return cmd
}

func streamLog(ctx context.Context, cmd *cobra.Command, fsys afero.Fs, path string, lines int, follow bool, match func(string) bool) error {
	out := cmd.OutOrStdout()
	result, err := logs.Tail(ctx, fsys, path, logs.TailOptions{Offset: -1, Limit: lines, Match: match})
	if err != nil {
		return err
	}
	for _, line := range result.Lines {
		fmt.Fprintln(out, line)
	}
	if !follow {
		return nil
	}
	offset := result.Offset
	for {
		result, err = logs.Tail(ctx, fsys, path, logs.TailOptions{Offset: offset, Follow: true, Wait: 5 * time.Second, Match: match})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		for _, line := range result.Lines {
			fmt.Fprintln(out, line)
		}
		offset = result.Offset
		if ctx.Err() != nil {
			return nil
		}
	}
}
