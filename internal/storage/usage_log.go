package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/granabot/grana/internal/common"
	"github.com/granabot/grana/internal/model"
	"github.com/granabot/grana/internal/service"
)

// LogUsage appends one provider attempt to the audit ledger. Implements
// service.UsageLogger. Writes retry briefly on a busy database; the caller
// treats failures as non-fatal either way.
func (s *SQLiteStorage) LogUsage(ctx context.Context, entry service.UsageEntry) error {
	err := common.WithRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `INSERT INTO usage_log
			(timestamp, provider, operation, tokens_in, tokens_out, latency_ms, success)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.Timestamp, string(entry.Provider), string(entry.Operation),
			entry.TokensIn, entry.TokensOut, entry.LatencyMS, entry.Success)
		return execErr
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond})
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates the ledger per provider and operation.
type UsageSummary struct {
	Provider  model.Provider
	Operation model.Operation
	Requests  int64
	TokensIn  int64
	TokensOut int64
	Failures  int64
}

// UsageSince summarizes all usage recorded at or after since.
func (s *SQLiteStorage) UsageSince(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, operation,
			COUNT(*), SUM(tokens_in), SUM(tokens_out), SUM(CASE WHEN success THEN 0 ELSE 1 END)
		FROM usage_log WHERE timestamp >= ?
		GROUP BY provider, operation
		ORDER BY provider, operation`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []UsageSummary
	for rows.Next() {
		var sum UsageSummary
		var provider, operation string
		if err := rows.Scan(&provider, &operation, &sum.Requests, &sum.TokensIn, &sum.TokensOut, &sum.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		sum.Provider = model.Provider(provider)
		sum.Operation = model.Operation(operation)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage summaries: %w", err)
	}

	return summaries, nil
}
