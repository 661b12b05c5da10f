package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ExecutionRecord is one dispatch in the history.
type ExecutionRecord struct {
	ID         int64     `json:"id"`
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name,omitempty"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Trigger    string    `json:"trigger"`
	Reaction   string    `json:"reaction"`
	Outcome    string    `json:"outcome"` // success, config_error, auth_error, execution_error
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"` // scrubbed and truncated by the caller
}

// HistoryFilter narrows GetHistory. Zero fields match everything.
type HistoryFilter struct {
	RuleID  string
	OwnerID string
	Outcome string
	Limit   int
}

// RecordExecution stores an execution record and returns its ID.
func (d *DB) RecordExecution(ctx context.Context, rec ExecutionRecord) (int64, error) {
	var errStr sql.NullString
	if rec.Error != "" {
		errStr = sql.NullString{String: rec.Error, Valid: true}
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO execution_history
		(rule_id, rule_name, owner_id, trigger_kind, reaction_kind, outcome,
		 started_at, finished_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RuleID, rec.RuleName, rec.OwnerID, rec.Trigger, rec.Reaction, rec.Outcome,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.DurationMs, errStr,
	)
	if err != nil {
		return 0, fmt.Errorf("recording execution: %w", err)
	}
	return result.LastInsertId()
}

// GetHistory returns matching records, newest first.
func (d *DB) GetHistory(ctx context.Context, f HistoryFilter) ([]ExecutionRecord, error) {
	query := `SELECT id, rule_id, rule_name, owner_id, trigger_kind, reaction_kind, outcome,
		started_at, finished_at, duration_ms, error
		FROM execution_history WHERE 1=1`
	var args []any

	if f.RuleID != "" {
		query += " AND rule_id = ?"
		args = append(args, f.RuleID)
	}
	if f.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, f.OwnerID)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, f.Outcome)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	records := []ExecutionRecord{}
	for rows.Next() {
		var r ExecutionRecord
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.RuleID, &r.RuleName, &r.OwnerID,
			&r.Trigger, &r.Reaction, &r.Outcome,
			&r.StartedAt, &r.FinishedAt, &r.DurationMs, &errStr); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Error = errStr.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// LastOutcome returns the most recent outcome for a rule, or "" if it has
// never run.
func (d *DB) LastOutcome(ctx context.Context, ruleID string) (string, error) {
	var outcome string
	err := d.db.QueryRowContext(ctx,
		"SELECT outcome FROM execution_history WHERE rule_id = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		ruleID,
	).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last outcome: %w", err)
	}
	return outcome, nil
}

// Cleanup removes execution records older than retentionDays.
func (d *DB) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM execution_history WHERE started_at < ?", cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleaning up history: %w", err)
	}
	return result.RowsAffected()
}
