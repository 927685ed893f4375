package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/granabot/grana/internal/model"
)

// GetCategories returns the tenant's catalog, optionally narrowed to one
// account. Implements service.CategorySource.
func (s *SQLiteStorage) GetCategories(ctx context.Context, tenantID, accountID string) ([]model.CategoryEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID cannot be empty")
	}

	query := `SELECT category_id, category_name, subcategory_id, subcategory_name, account_id, transaction_type
		FROM categories WHERE tenant_id = ?`
	args := []any{tenantID}
	if accountID != "" {
		query += ` AND (account_id = ? OR account_id = '' OR account_id IS NULL)`
		args = append(args, accountID)
	}
	query += ` ORDER BY category_name, subcategory_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.CategoryEntry
	for rows.Next() {
		var entry model.CategoryEntry
		var subID, subName, account, txType sql.NullString
		if err := rows.Scan(&entry.CategoryID, &entry.CategoryName, &subID, &subName, &account, &txType); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		entry.SubCategoryID = subID.String
		entry.SubCategoryName = subName.String
		entry.AccountID = account.String
		entry.TransactionType = model.TransactionType(txType.String)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate categories: %w", err)
	}

	return entries, nil
}

// ReplaceCategories swaps the tenant's whole catalog in one transaction, so
// readers see either the old or the new catalog, never a mix.
func (s *SQLiteStorage) ReplaceCategories(ctx context.Context, tenantID string, entries []model.CategoryEntry) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO categories
		(tenant_id, category_id, category_name, subcategory_id, subcategory_name, account_id, transaction_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, tenantID,
			entry.CategoryID, entry.CategoryName,
			entry.SubCategoryID, entry.SubCategoryName,
			entry.AccountID, string(entry.TransactionType)); err != nil {
			return fmt.Errorf("failed to insert category %s: %w", entry.CategoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit categories: %w", err)
	}
	return nil
}
