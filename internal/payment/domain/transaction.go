package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the edge s -> next is allowed. The allowed
// edges are initiated->pending, initiated->completed, initiated->failed,
// pending->completed and pending->failed; terminal states never revert.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusInitiated:
		return next == StatusPending || next == StatusCompleted || next == StatusFailed
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Transaction tracks one invoice's payment attempt through a provider.
// The invoice id is a back-reference to the caller's record, not ownership.
type Transaction struct {
	ID        string
	InvoiceID string
	Provider  string
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTransaction(id, invoiceID, provider string, amount decimal.Decimal, now time.Time) Transaction {
	return Transaction{
		ID:        id,
		InvoiceID: invoiceID,
		Provider:  provider,
		Amount:    amount,
		Status:    StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
