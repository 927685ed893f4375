// Package service defines the interfaces between the extraction core and its
// external collaborators. The core consumes these; the host application (or
// the sqlite-backed implementations in internal/storage) provides them.
package service

import (
	"context"
	"time"

	"github.com/granabot/grana/internal/model"
)

// CategorySource supplies the category catalog the index and the AI prompt
// are built from. Whatever it returns is treated as authoritative for that
// call.
type CategorySource interface {
	GetCategories(ctx context.Context, tenantID, accountID string) ([]model.CategoryEntry, error)
}

// TransactionSink registers a validated record with the outward ledger.
// Consumed only after the auto-register gate or a confirmation accept.
type TransactionSink interface {
	CreateTransaction(ctx context.Context, tenantID string, record model.ExtractionResult) (string, error)
}

// ConfirmationStore persists transactions awaiting explicit user review.
type ConfirmationStore interface {
	Create(ctx context.Context, confirmation model.PendingConfirmation) error
	Get(ctx context.Context, id string) (model.PendingConfirmation, error)
	Resolve(ctx context.Context, id string, status model.ConfirmationStatus) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// UsageEntry is one audit record for a provider attempt.
type UsageEntry struct {
	Timestamp time.Time
	Provider  model.Provider
	Operation model.Operation
	TokensIn  int64
	TokensOut int64
	LatencyMS int64
	Success   bool
}

// UsageLogger is a fire-and-forget audit/cost sink. Failures here must never
// affect pipeline outcome.
type UsageLogger interface {
	LogUsage(ctx context.Context, entry UsageEntry) error
}

// RetryOptions configures retry behavior for transient failures.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
