package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/model"
)

// CreateConfirmation persists a pending confirmation. Implements
// service.ConfirmationStore.
func (s *SQLiteStorage) Create(ctx context.Context, confirmation model.PendingConfirmation) error {
	if confirmation.ID == "" {
		return fmt.Errorf("confirmation ID cannot be empty")
	}

	record, err := json.Marshal(confirmation.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO confirmations
		(id, tenant_id, status, record_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		confirmation.ID, confirmation.TenantID, string(confirmation.Status),
		string(record), confirmation.CreatedAt, confirmation.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert confirmation: %w", err)
	}
	return nil
}

// Get loads one confirmation by ID.
func (s *SQLiteStorage) Get(ctx context.Context, id string) (model.PendingConfirmation, error) {
	var c model.PendingConfirmation
	var status, recordJSON string

	err := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, status, record_json, created_at, expires_at
		FROM confirmations WHERE id = ?`, id).
		Scan(&c.ID, &c.TenantID, &status, &recordJSON, &c.CreatedAt, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PendingConfirmation{}, fmt.Errorf("confirmation %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("failed to query confirmation: %w", err)
	}

	c.Status = model.ConfirmationStatus(status)
	if err := json.Unmarshal([]byte(recordJSON), &c.Record); err != nil {
		return model.PendingConfirmation{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return c, nil
}

// Resolve updates a confirmation's status.
func (s *SQLiteStorage) Resolve(ctx context.Context, id string, status model.ConfirmationStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE confirmations SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update confirmation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("confirmation %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// ExpireStale marks all pending confirmations past their expiry as expired
// and returns how many were swept.
func (s *SQLiteStorage) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE confirmations SET status = ?
		WHERE status = ? AND expires_at < ?`,
		string(model.ConfirmationExpired), string(model.ConfirmationPending), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire confirmations: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired confirmations: %w", err)
	}
	return affected, nil
}
