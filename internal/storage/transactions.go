package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/granabot/grana/internal/model"
)

// Transaction is one registered ledger row.
type Transaction struct {
	CreatedAt time.Time
	ID        string
	TenantID  string
	Record    model.ExtractionResult
}

// CreateTransaction registers a validated record and returns its ID.
// Implements service.TransactionSink.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, tenantID string, record model.ExtractionResult) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID cannot be empty")
	}
	if err := record.Validate(); err != nil {
		return "", fmt.Errorf("refusing to register invalid record: %w", err)
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions
		(id, tenant_id, date, type, category, category_id, subcategory, subcategory_id, description, merchant, amount, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tenantID, record.Date, string(record.Type),
		record.Category, record.CategoryID, record.SubCategory, record.SubCategoryID,
		record.Description, record.Merchant, record.Amount, record.Confidence)
	if err != nil {
		return "", fmt.Errorf("failed to insert transaction: %w", err)
	}
	return id, nil
}

// ListTransactions returns the tenant's registered transactions, newest
// first, up to limit (0 means no limit).
func (s *SQLiteStorage) ListTransactions(ctx context.Context, tenantID string, limit int) ([]Transaction, error) {
	query := `SELECT id, tenant_id, date, type, category, category_id, subcategory, subcategory_id, description, merchant, amount, confidence, created_at
		FROM transactions WHERE tenant_id = ? ORDER BY date DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var txType string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Record.Date, &txType,
			&t.Record.Category, &t.Record.CategoryID, &t.Record.SubCategory, &t.Record.SubCategoryID,
			&t.Record.Description, &t.Record.Merchant, &t.Record.Amount, &t.Record.Confidence,
			&t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Record.Type = model.TransactionType(txType)
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}
