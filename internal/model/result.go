package model

import (
	"fmt"
	"time"
)

// TransactionType indicates the direction of a transaction.
type TransactionType string

// Transaction types.
const (
	TypeExpense TransactionType = "EXPENSE"
	TypeIncome  TransactionType = "INCOME"
)

// FallbackCategory is the sentinel category used when no category can be
// resolved. Advisory operations return it instead of failing.
const FallbackCategory = "Other"

// DefaultConfidence is assumed when a provider omits a confidence score.
const DefaultConfidence = 0.8

// ExtractionResult is the canonical transaction record produced by the
// pipeline. All provider output is converted into this shape before anything
// downstream sees it.
type ExtractionResult struct {
	Date          time.Time       `json:"date"`
	Type          TransactionType `json:"type"`
	Category      string          `json:"category"`
	CategoryID    string          `json:"categoryId,omitempty"`
	SubCategory   string          `json:"subCategory,omitempty"`
	SubCategoryID string          `json:"subCategoryId,omitempty"`
	Description   string          `json:"description,omitempty"`
	Merchant      string          `json:"merchant,omitempty"`
	Amount        float64         `json:"amount"`
	Confidence    float64         `json:"confidence"`
}

// Normalize returns a copy with defaults applied and out-of-range values
// clamped. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func (r ExtractionResult) Normalize() ExtractionResult {
	if r.Type != TypeExpense && r.Type != TypeIncome {
		r.Type = TypeExpense
	}
	if r.Amount < 0 {
		r.Amount = -r.Amount
	}
	if r.Category == "" {
		r.Category = FallbackCategory
	}
	if r.Date.IsZero() {
		r.Date = time.Now()
	}
	// A non-positive confidence means the provider omitted or garbled it.
	if r.Confidence <= 0 {
		r.Confidence = DefaultConfidence
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r
}

// Validate checks domain invariants on a normalized record.
func (r ExtractionResult) Validate() error {
	if r.Type != TypeExpense && r.Type != TypeIncome {
		return fmt.Errorf("invalid transaction type %q", r.Type)
	}
	if r.Amount < 0 {
		return fmt.Errorf("amount must be non-negative, got %.2f", r.Amount)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %.2f", r.Confidence)
	}
	return nil
}

// Resolved reports whether both category and subcategory were matched to
// concrete identifiers. Only fully resolved records may auto-register.
func (r ExtractionResult) Resolved() bool {
	return r.CategoryID != "" && r.SubCategoryID != ""
}
