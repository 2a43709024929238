package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"assessflow/internal/daemonctl"
)

const (
	daemonStartTimeout = 15 * time.Second
	daemonStopGrace    = 20 * time.Second
)

func (c *commandContext) launchOptions() (daemonctl.LaunchOptions, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return daemonctl.LaunchOptions{}, err
	}
	configPath := c.configPath()
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			configPath = abs
		}
	}
	return daemonctl.LaunchOptions{
		SocketPath: c.socketPath(),
		ConfigPath: configPath,
		LogPath:    filepath.Join(cfg.Paths.LogDir, "daemon.out"),
	}, nil
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := ctx.launchOptions()
			if err != nil {
				return err
			}
			return startDaemon(cmd, ctx.socketPath(), opts)
		},
	}
}

func startDaemon(cmd *cobra.Command, socket string, opts daemonctl.LaunchOptions) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	result, err := daemonctl.EnsureStarted(socket, executable, opts, daemonStartTimeout)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch result.State {
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintf(out, "Daemon already running (pid %d)\n", result.PID)
	default:
		fmt.Fprintf(out, "Daemon started (pid %d)\n", result.PID)
	}
	return nil
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(ctx.socketPath(), cfg.PIDPath(), daemonStopGrace)
			out := cmd.OutOrStdout()
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			reportStop(cmd, result)
			return nil
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the background daemon if running, then start it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := ctx.launchOptions()
			if err != nil {
				return err
			}
			result, err := daemonctl.Stop(ctx.socketPath(), cfg.PIDPath(), daemonStopGrace)
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
			case err != nil:
				return err
			default:
				reportStop(cmd, result)
			}
			return startDaemon(cmd, ctx.socketPath(), opts)
		},
	}
}

func reportStop(cmd *cobra.Command, result daemonctl.StopResult) {
	out := cmd.OutOrStdout()
	if result.ForcedKill {
		fmt.Fprintf(out, "Daemon (pid %d) did not exit in time and was killed\n", result.PID)
		return
	}
	fmt.Fprintf(out, "Daemon (pid %d) stopped\n", result.PID)
}
