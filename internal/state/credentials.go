package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/colebrumley/areamgr/internal/registry"
)

// Credentials returns ownerID's stored credentials for provider, or nil
// when none are stored.
func (d *DB) Credentials(ctx context.Context, ownerID, provider string) (registry.Credentials, error) {
	var data string
	err := d.db.QueryRowContext(ctx,
		"SELECT data FROM credentials WHERE owner_id = ? AND provider = ?",
		ownerID, provider,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credentials: %w", err)
	}

	var creds registry.Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	return creds, nil
}

// PutCredentials stores or replaces ownerID's credentials for provider.
func (d *DB) PutCredentials(ctx context.Context, ownerID, provider string, creds registry.Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO credentials (owner_id, provider, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id, provider) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		ownerID, provider, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	return nil
}

// DeleteCredentials removes ownerID's credentials for provider.
func (d *DB) DeleteCredentials(ctx context.Context, ownerID, provider string) error {
	_, err := d.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE owner_id = ? AND provider = ?",
		ownerID, provider,
	)
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}
