package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"assessflow/internal/daemon"
	"assessflow/internal/ipc"
	"assessflow/internal/workflow"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Create and manage assessment workflows",
	}

	workflowCmd.AddCommand(newWorkflowCreateCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowResumeCommand(ctx))
	workflowCmd.AddCommand(newWorkflowCancelCommand(ctx))
	workflowCmd.AddCommand(newWorkflowSummaryCommand(ctx))

	return workflowCmd
}

func newWorkflowCreateCommand(ctx *commandContext) *cobra.Command {
	var clientID, therapistID, assessmentType, metadataFile string
	var metaPairs []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow and hand it to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := buildMetadata(metadataFile, metaPairs)
			if err != nil {
				return err
			}
			req := ipc.WorkflowCreateRequest{
				ClientID:       strings.TrimSpace(clientID),
				TherapistID:    strings.TrimSpace(therapistID),
				AssessmentType: strings.TrimSpace(assessmentType),
				Metadata:       metadata,
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowCreate(req)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Workflow)
				}
				wf := resp.Workflow
				fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s (%s)\n", wf.ID, humanLabel(string(wf.Status)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client identifier")
	cmd.Flags().StringVar(&therapistID, "therapist", "", "Therapist identifier")
	cmd.Flags().StringVar(&assessmentType, "type", "initial", "Assessment type (initial, followup, urgent)")
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Metadata entry as key=value (repeatable)")
	cmd.Flags().StringVar(&metadataFile, "metadata-file", "", "JSON file holding a metadata object")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}

// buildMetadata merges the JSON file first and then key=value pairs, so
// pairs override file entries.
func buildMetadata(path string, pairs []string) (map[string]any, error) {
	metadata := map[string]any{}
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metadata file: %w", err)
		}
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("parse metadata file %s: %w", path, err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q (expected key=value)", pair)
		}
		metadata[key] = parseMetaValue(strings.TrimSpace(value))
	}
	if len(metadata) == 0 {
		return nil, nil
	}
	return metadata, nil
}

func parseMetaValue(value string) any {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var status, clientID, therapistID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List workflows, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowList(ipc.WorkflowListRequest{
					Status:      strings.TrimSpace(status),
					ClientID:    strings.TrimSpace(clientID),
					TherapistID: strings.TrimSpace(therapistID),
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Workflows)
				}
				out := cmd.OutOrStdout()
				if len(resp.Workflows) == 0 {
					fmt.Fprintln(out, "No workflows found")
					return nil
				}
				fmt.Fprintln(out, renderWorkflowTable(resp.Workflows, time.Now()))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list workflows in this status")
	cmd.Flags().StringVar(&clientID, "client", "", "Only list workflows for this client")
	cmd.Flags().StringVar(&therapistID, "therapist", "", "Only list workflows for this therapist")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}

func renderWorkflowTable(workflows []*workflow.Workflow, now time.Time) string {
	rows := make([][]string, 0, len(workflows))
	for _, wf := range workflows {
		stage := "-"
		if current, ok := wf.CurrentStage(); ok {
			stage = current.ID
		}
		rows = append(rows, []string{
			wf.ID,
			wf.ClientID,
			wf.TherapistID,
			wf.AssessmentType,
			string(wf.Status),
			stage,
			fmt.Sprintf("%.0f%%", wf.Progress()),
			formatAge(now, wf.CreatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Client", "Therapist", "Type", "Status", "Stage", "Progress", "Age"},
		rows,
		[]columnKind{colText, colText, colText, colLabel, colLabel, colLabel, colNumber, colNumber},
	)
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow with its stages, errors and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := parseOutputFormat(format)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowShow(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, outFormat, resp.Detail); handled {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderWorkflowDetail(resp.Detail))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table, json or yaml")
	return cmd
}

func renderWorkflowDetail(detail daemon.Detail) string {
	wf := detail.Workflow
	if wf == nil {
		return "Workflow not found\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow:   %s\n", wf.ID)
	fmt.Fprintf(&b, "Client:     %s\n", wf.ClientID)
	fmt.Fprintf(&b, "Therapist:  %s\n", wf.TherapistID)
	fmt.Fprintf(&b, "Type:       %s\n", humanLabel(wf.AssessmentType))
	fmt.Fprintf(&b, "Status:     %s\n", humanLabel(string(wf.Status)))
	fmt.Fprintf(&b, "Progress:   %.0f%%\n", wf.Progress())
	fmt.Fprintf(&b, "Review:     %s\n", yesNo(wf.ManualReview()))
	fmt.Fprintf(&b, "Created:    %s\n", formatTimestamp(&wf.CreatedAt))
	if wf.StartedAt != nil {
		fmt.Fprintf(&b, "Started:    %s\n", formatTimestamp(wf.StartedAt))
	}
	if wf.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed:  %s\n", formatTimestamp(wf.CompletedAt))
	}
	if wf.Error != "" {
		fmt.Fprintf(&b, "Error:      %s (%s, %s)\n", wf.Error, wf.ErrorCategory, wf.ErrorSeverity)
	}

	stageRows := make([][]string, 0, len(wf.Stages))
	for i, st := range wf.Stages {
		marker := ""
		if i == wf.CurrentStageIndex && !wf.Status.Terminal() {
			marker = "*"
		}
		stageRows = append(stageRows, []string{
			marker,
			st.ID,
			string(st.Status),
			formatTimestamp(st.StartedAt),
			formatTimestamp(st.CompletedAt),
			st.Error,
		})
	}
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"", "Stage", "Status", "Started", "Completed", "Error"}, stageRows,
		[]columnKind{colText, colLabel, colLabel}))
	b.WriteString("\n")

	if len(detail.Errors) > 0 {
		b.WriteString("\n")
		b.WriteString(renderErrorTable(detail.Errors))
		b.WriteString("\n")
	}

	if len(detail.Events) > 0 {
		eventRows := make([][]string, 0, len(detail.Events))
		for _, evt := range detail.Events {
			eventRows = append(eventRows, []string{
				strconv.FormatUint(evt.Sequence, 10),
				evt.Timestamp.Local().Format(time.RFC3339),
				string(evt.Type),
				evt.StageID,
			})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Seq", "Time", "Event", "Stage"}, eventRows,
			[]columnKind{colNumber, colText, colText, colText}))
		b.WriteString("\n")
	}
	return b.String()
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newWorkflowResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a workflow from its current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowResume(id)
				if err != nil {
					return err
				}
				if resp.Started {
					fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s resumed\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s queued; the concurrency limit is reached\n", id)
				}
				return nil
			})
		},
	}
}

func newWorkflowCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.WorkflowCancel(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s cancelled\n", id)
				return nil
			})
		},
	}
}

func newWorkflowSummaryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize workflows created this week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowSummary()
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp.Summary)
				}
				s := resp.Summary
				rows := [][]string{
					{"Total", strconv.Itoa(s.Total)},
					{"Completed", strconv.Itoa(s.Completed)},
					{"In Progress", strconv.Itoa(s.InProgress)},
					{"Pending", strconv.Itoa(s.Pending)},
					{"Error", strconv.Itoa(s.Error)},
					{"Cancelled", strconv.Itoa(s.Cancelled)},
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Since %s\n", s.Since.Local().Format("2006-01-02"))
				fmt.Fprintln(out, renderTable([]string{"Status", "Workflows"}, rows, []columnKind{colText, colNumber}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON output")
	return cmd
}
