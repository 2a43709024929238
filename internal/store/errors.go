package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"assessflow/internal/recovery"
	"assessflow/internal/services"
)

// AppendError inserts an error record. Attempts are stored separately.
func (s *Store) AppendError(ctx context.Context, record recovery.ErrorRecord) error {
	contextJSON, err := nullableJSON(record.Context)
	if err != nil {
		return fmt.Errorf("marshal error context: %w", err)
	}
	_, err = s.execWithRetry(ctx, `INSERT INTO error_records (
            id, workflow_id, stage_id, message, kind, category, severity,
            context_json, recorded_at, resolved_at, resolution_notes
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.WorkflowID,
		nullableString(record.StageID),
		record.Message,
		nullableString(record.Kind),
		enumText(record.Category.Valid(), record.Category.String()),
		enumText(record.Severity != 0, record.Severity.String()),
		contextJSON,
		formatTime(record.Timestamp),
		nullableTime(record.ResolvedAt),
		nullableString(record.ResolutionNotes),
	)
	if err != nil {
		return fmt.Errorf("append error record: %w", err)
	}
	return nil
}

// AppendRecoveryAttempt inserts one attempt.
func (s *Store) AppendRecoveryAttempt(ctx context.Context, attempt recovery.RecoveryAttempt) error {
	_, err := s.execWithRetry(ctx, `INSERT INTO recovery_attempts (
            id, error_id, workflow_id, attempted_at, strategy, success, notes
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		nullableString(attempt.ErrorID),
		attempt.WorkflowID,
		formatTime(attempt.Timestamp),
		attempt.Strategy,
		boolToInt(attempt.Success),
		nullableString(attempt.Notes),
	)
	if err != nil {
		return fmt.Errorf("append recovery attempt: %w", err)
	}
	return nil
}

// ResolveError marks a record resolved.
func (s *Store) ResolveError(ctx context.Context, errorID string, resolvedAt time.Time, notes string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE error_records SET resolved_at = ?, resolution_notes = ? WHERE id = ?`,
		formatTime(resolvedAt), nullableString(notes), errorID)
	if err != nil {
		return fmt.Errorf("resolve error record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve error record: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "store", "resolve error", errorID, nil)
	}
	return nil
}

// ListErrors returns records with their attempts, oldest first. An empty
// workflowID lists everything.
func (s *Store) ListErrors(ctx context.Context, workflowID string) ([]recovery.ErrorRecord, error) {
	query := `SELECT id, workflow_id, stage_id, message, kind, category, severity,
            context_json, recorded_at, resolved_at, resolution_notes FROM error_records`
	var args []any
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY recorded_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	var records []recovery.ErrorRecord
	index := make(map[string]int)
	for rows.Next() {
		record, err := scanErrorRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		index[record.ID] = len(records)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	attempts, err := s.listAttempts(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, attempt := range attempts {
		if i, ok := index[attempt.ErrorID]; ok {
			records[i].Attempts = append(records[i].Attempts, attempt)
		}
	}
	return records, nil
}

func (s *Store) listAttempts(ctx context.Context, workflowID string) ([]recovery.RecoveryAttempt, error) {
	query := `SELECT id, error_id, workflow_id, attempted_at, strategy, success, notes FROM recovery_attempts`
	var args []any
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY attempted_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recovery attempts: %w", err)
	}
	defer rows.Close()

	var out []recovery.RecoveryAttempt
	for rows.Next() {
		var (
			attempt    recovery.RecoveryAttempt
			errorID    sql.NullString
			attemptRaw string
			success    int
			notes      sql.NullString
		)
		if err := rows.Scan(&attempt.ID, &errorID, &attempt.WorkflowID, &attemptRaw,
			&attempt.Strategy, &success, &notes); err != nil {
			return nil, fmt.Errorf("scan recovery attempt: %w", err)
		}
		attempt.ErrorID = errorID.String
		attempt.Success = success != 0
		attempt.Notes = notes.String
		if ts, err := parseTimeString(attemptRaw); err == nil {
			attempt.Timestamp = ts
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

func scanErrorRecord(scanner interface{ Scan(dest ...any) error }) (recovery.ErrorRecord, error) {
	var (
		record      recovery.ErrorRecord
		stageID     sql.NullString
		kind        sql.NullString
		categoryRaw sql.NullString
		severityRaw sql.NullString
		contextRaw  sql.NullString
		recordedRaw string
		resolvedRaw sql.NullString
		notes       sql.NullString
	)
	if err := scanner.Scan(&record.ID, &record.WorkflowID, &stageID, &record.Message, &kind,
		&categoryRaw, &severityRaw, &contextRaw, &recordedRaw, &resolvedRaw, &notes); err != nil {
		return record, err
	}
	record.StageID = stageID.String
	record.Kind = kind.String
	record.ResolutionNotes = notes.String
	if categoryRaw.Valid {
		if category, err := recovery.ParseCategory(categoryRaw.String); err == nil {
			record.Category = category
		}
	}
	if severityRaw.Valid {
		if severity, err := recovery.ParseSeverity(severityRaw.String); err == nil {
			record.Severity = severity
		}
	}
	if contextRaw.Valid && contextRaw.String != "" {
		if err := json.Unmarshal([]byte(contextRaw.String), &record.Context); err != nil {
			return record, fmt.Errorf("decode context for %s: %w", record.ID, err)
		}
	}
	if ts, err := parseTimeString(recordedRaw); err == nil {
		record.Timestamp = ts
	}
	record.ResolvedAt = parseTimePtr(resolvedRaw.String)
	return record, nil
}
