package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"assessflow/internal/recovery"
	"assessflow/internal/services"
	"assessflow/internal/workflow"
)

const workflowColumns = "id, client_id, therapist_id, assessment_type, status, current_stage_index, metadata_json, error_message, error_category, error_severity, created_at, started_at, completed_at"

const stageColumns = "workflow_id, position, stage_id, agent_type, status, started_at, completed_at, output_json, error_message"

// SaveWorkflow upserts the workflow row and replaces its stages.
func (s *Store) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if wf == nil {
		return errors.New("save workflow: nil workflow")
	}
	metadata, err := nullableJSON(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	type stageRow struct {
		stage  workflow.Stage
		output any
	}
	stages := make([]stageRow, 0, len(wf.Stages))
	for _, stage := range wf.Stages {
		output, err := nullableJSON(stage.Output)
		if err != nil {
			return fmt.Errorf("marshal %s output: %w", stage.ID, err)
		}
		stages = append(stages, stageRow{stage: stage, output: output})
	}

	now := formatTime(time.Now())
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflows (
                id, client_id, therapist_id, assessment_type, status, current_stage_index,
                metadata_json, error_message, error_category, error_severity,
                created_at, updated_at, started_at, completed_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                status = excluded.status,
                current_stage_index = excluded.current_stage_index,
                metadata_json = excluded.metadata_json,
                error_message = excluded.error_message,
                error_category = excluded.error_category,
                error_severity = excluded.error_severity,
                updated_at = excluded.updated_at,
                started_at = excluded.started_at,
                completed_at = excluded.completed_at`,
			wf.ID,
			wf.ClientID,
			wf.TherapistID,
			nullableString(wf.AssessmentType),
			string(wf.Status),
			wf.CurrentStageIndex,
			metadata,
			nullableString(wf.Error),
			enumText(wf.ErrorCategory.Valid(), wf.ErrorCategory.String()),
			enumText(wf.ErrorSeverity != 0, wf.ErrorSeverity.String()),
			formatTime(wf.CreatedAt),
			now,
			nullableTime(wf.StartedAt),
			nullableTime(wf.CompletedAt),
		); err != nil {
			return fmt.Errorf("upsert workflow: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE workflow_id = ?`, wf.ID); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}
		for i, row := range stages {
			if _, err := tx.ExecContext(ctx, `INSERT INTO stages (`+stageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				wf.ID,
				i,
				row.stage.ID,
				row.stage.AgentType,
				string(row.stage.Status),
				nullableTime(row.stage.StartedAt),
				nullableTime(row.stage.CompletedAt),
				row.output,
				nullableString(row.stage.Error),
			); err != nil {
				return fmt.Errorf("insert stage %s: %w", row.stage.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// GetWorkflow loads one workflow with its stages.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "store", "get workflow", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	stages, err := s.loadStages(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	wf.Stages = stages[id]
	return wf, nil
}

// ListWorkflows returns workflows in any of statuses, or all workflows when
// none are given, oldest first.
func (s *Store) ListWorkflows(ctx context.Context, statuses ...workflow.Status) ([]*workflow.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var (
		out []*workflow.Workflow
		ids []string
	)
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, wf)
		ids = append(ids, wf.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	stages, err := s.loadStages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, wf := range out {
		wf.Stages = stages[wf.ID]
	}
	return out, nil
}

// Stats counts workflows by status.
func (s *Store) Stats(ctx context.Context) (map[workflow.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM workflows GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("workflow stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[workflow.Status]int)
	for rows.Next() {
		var status workflow.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *Store) loadStages(ctx context.Context, ids []string) (map[string][]workflow.Stage, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE workflow_id IN (`+makePlaceholders(len(ids))+`) ORDER BY workflow_id, position`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("load stages: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]workflow.Stage, len(ids))
	for rows.Next() {
		var (
			workflowID  string
			position    int
			stage       workflow.Stage
			status      string
			startedRaw  sql.NullString
			completeRaw sql.NullString
			outputRaw   sql.NullString
			errorMsg    sql.NullString
		)
		if err := rows.Scan(&workflowID, &position, &stage.ID, &stage.AgentType, &status,
			&startedRaw, &completeRaw, &outputRaw, &errorMsg); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stage.Status = workflow.StageStatus(status)
		stage.StartedAt = parseTimePtr(startedRaw.String)
		stage.CompletedAt = parseTimePtr(completeRaw.String)
		stage.Error = errorMsg.String
		if outputRaw.Valid && outputRaw.String != "" {
			if err := json.Unmarshal([]byte(outputRaw.String), &stage.Output); err != nil {
				return nil, fmt.Errorf("decode %s output for %s: %w", stage.ID, workflowID, err)
			}
		}
		out[workflowID] = append(out[workflowID], stage)
	}
	return out, rows.Err()
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*workflow.Workflow, error) {
	var (
		wf             workflow.Workflow
		assessmentType sql.NullString
		status         string
		metadataRaw    sql.NullString
		errorMsg       sql.NullString
		categoryRaw    sql.NullString
		severityRaw    sql.NullString
		createdRaw     string
		startedRaw     sql.NullString
		completedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&wf.ID,
		&wf.ClientID,
		&wf.TherapistID,
		&assessmentType,
		&status,
		&wf.CurrentStageIndex,
		&metadataRaw,
		&errorMsg,
		&categoryRaw,
		&severityRaw,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	wf.AssessmentType = assessmentType.String
	wf.Status = workflow.Status(status)
	wf.Error = errorMsg.String
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &wf.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", wf.ID, err)
		}
	}
	if categoryRaw.Valid {
		if category, err := recovery.ParseCategory(categoryRaw.String); err == nil {
			wf.ErrorCategory = category
		}
	}
	if severityRaw.Valid {
		if severity, err := recovery.ParseSeverity(severityRaw.String); err == nil {
			wf.ErrorSeverity = severity
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		wf.CreatedAt = created
	}
	wf.StartedAt = parseTimePtr(startedRaw.String)
	wf.CompletedAt = parseTimePtr(completedRaw.String)
	return &wf, nil
}

func enumText(valid bool, text string) any {
	if !valid {
		return nil
	}
	return text
}
