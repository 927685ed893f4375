package model

import "time"

// ConfirmationStatus tracks the lifecycle of a pending confirmation.
type ConfirmationStatus string

// Confirmation statuses.
const (
	ConfirmationPending  ConfirmationStatus = "PENDING"
	ConfirmationAccepted ConfirmationStatus = "ACCEPTED"
	ConfirmationRejected ConfirmationStatus = "REJECTED"
	ConfirmationExpired  ConfirmationStatus = "EXPIRED"
)

// PendingConfirmation is a transaction awaiting an explicit user accept or
// reject. It is created when a validated record does not clear the
// auto-register gate, or when registration itself fails.
type PendingConfirmation struct {
	CreatedAt time.Time
	ExpiresAt time.Time
	ID        string
	TenantID  string
	Status    ConfirmationStatus
	Record    ExtractionResult
}

// Expired reports whether the confirmation has passed its expiry.
func (c PendingConfirmation) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
