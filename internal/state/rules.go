package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/colebrumley/areamgr/internal/rule"
)

// Rules is the SQLite rule.Repository.
type Rules struct {
	db  *sql.DB
	now func() time.Time
}

var _ rule.Repository = (*Rules)(nil)

// Rules returns the rule repository backed by d.
func (d *DB) Rules() *Rules {
	return &Rules{db: d.db, now: time.Now}
}

const ruleColumns = `id, name, owner_id, enabled, action_provider, action_kind, action_filter,
	reaction_provider, reaction_kind, reaction_parameters, metadata,
	last_triggered, last_checked, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*rule.Rule, error) {
	var (
		r                        rule.Rule
		filter, params, metadata sql.NullString
		lastTriggered, lastCheck sql.NullTime
	)
	err := s.Scan(&r.ID, &r.Name, &r.OwnerID, &r.Enabled,
		&r.Action.Provider, &r.Action.Kind, &filter,
		&r.Reaction.Provider, &r.Reaction.Kind, &params, &metadata,
		&lastTriggered, &lastCheck, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Action.Filter, err = decodeMap(filter); err != nil {
		return nil, fmt.Errorf("decoding filter of %s: %w", r.ID, err)
	}
	if r.Reaction.Parameters, err = decodeMap(params); err != nil {
		return nil, fmt.Errorf("decoding parameters of %s: %w", r.ID, err)
	}
	if r.Metadata, err = decodeMap(metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata of %s: %w", r.ID, err)
	}
	r.LastTriggered = lastTriggered.Time
	r.LastChecked = lastCheck.Time
	return &r, nil
}

func (s *Rules) List(ctx context.Context, ownerID string) ([]*rule.Rule, error) {
	query := "SELECT " + ruleColumns + " FROM rules"
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	rules := []*rule.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Rules) Get(ctx context.Context, id string) (*rule.Rule, error) {
	return getRule(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRule(ctx context.Context, q querier, id string) (*rule.Rule, error) {
	r, err := scanRule(q.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM rules WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting rule %s: %w", id, err)
	}
	return r, nil
}

func (s *Rules) Save(ctx context.Context, r *rule.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	c := r.Clone()
	now := s.now().UTC()
	old, err := getRule(ctx, tx, c.ID)
	switch {
	case err == nil:
		c.Inherit(old)
	case errors.Is(err, rule.ErrNotFound):
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
	default:
		return err
	}
	c.UpdatedAt = now

	if err := writeRule(ctx, tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Rules) Update(ctx context.Context, id string, p rule.Patch) (*rule.Rule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := getRule(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	p.Apply(r)
	if p.Enabled != nil {
		r.UpdatedAt = s.now().UTC()
	}
	if err := writeRule(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rule update: %w", err)
	}
	return r, nil
}

func (s *Rules) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting rule %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func writeRule(ctx context.Context, tx *sql.Tx, r *rule.Rule) error {
	filter, err := encodeMap(r.Action.Filter)
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}
	params, err := encodeMap(r.Reaction.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	metadata, err := encodeMap(r.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			enabled = excluded.enabled,
			action_provider = excluded.action_provider,
			action_kind = excluded.action_kind,
			action_filter = excluded.action_filter,
			reaction_provider = excluded.reaction_provider,
			reaction_kind = excluded.reaction_kind,
			reaction_parameters = excluded.reaction_parameters,
			metadata = excluded.metadata,
			last_triggered = excluded.last_triggered,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.OwnerID, r.Enabled,
		r.Action.Provider, r.Action.Kind, filter,
		r.Reaction.Provider, r.Reaction.Kind, params, metadata,
		nullTime(r.LastTriggered), nullTime(r.LastChecked),
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing rule %s: %w", r.ID, err)
	}
	return nil
}

func encodeMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
