package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"assessflow/internal/agent"
	"assessflow/internal/ipc"
)

func newAgentsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Show agent health and toggle agent types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Agents()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Agents)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderAgentTable(resp.Agents))
				return nil
			})
		},
	}
	agentsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")

	agentsCmd.AddCommand(newAgentToggleCommand(ctx, "enable", true))
	agentsCmd.AddCommand(newAgentToggleCommand(ctx, "disable", false))
	return agentsCmd
}

func newAgentToggleCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <agent-type>",
		Short: humanLabel(verb) + " an agent type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentType := strings.ToLower(strings.TrimSpace(args[0]))
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AgentSet(agentType, enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Agent %s is %s\n", agentType, resp.Agent.State)
				return nil
			})
		},
	}
}

func renderAgentTable(statuses []agent.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		lastActive := "-"
		if !st.LastActive.IsZero() {
			lastActive = formatTimestamp(&st.LastActive)
		}
		rows = append(rows, []string{
			st.AgentType,
			string(st.State),
			strconv.Itoa(st.ActiveSessions),
			strconv.Itoa(st.ErrorCount),
			lastActive,
			st.LastError,
		})
	}
	return renderTable(
		[]string{"Agent", "State", "Sessions", "Errors", "Last Active", "Last Error"},
		rows,
		[]columnKind{colLabel, colLabel, colNumber, colNumber, colText, colText},
	)
}
