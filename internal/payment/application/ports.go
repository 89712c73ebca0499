package application

import (
	"context"

	"github.com/abenezerm/schoolpay/internal/payment/domain"
)

// Ledger tracks transactions across the asynchronous payment lifecycle.
// Implementations must linearize ApplyStatus per transaction id so a racing
// callback and poll cannot both win a terminal transition.
type Ledger interface {
	// Record stores a transaction in state initiated. An invoice that
	// already has a live transaction for matching provider and amount is
	// returned as-is (idempotent retry); a conflicting reuse fails with
	// domain.ErrDuplicateInvoice.
	Record(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// ApplyStatus transitions a transaction along the allowed edges and
	// returns the updated transaction. Disallowed edges fail with
	// domain.ErrInvalidTransition and change nothing.
	ApplyStatus(ctx context.Context, transactionID string, status domain.Status) (domain.Transaction, error)

	FindByInvoice(ctx context.Context, invoiceID string) (domain.Transaction, error)
	FindByTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
}
