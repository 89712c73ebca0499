// Package memory provides the in-memory transaction ledger used in
// development and tests. All transitions for a transaction serialize on one
// mutex, so concurrent settlement attempts cannot corrupt state.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abenezerm/schoolpay/internal/payment/domain"
)

type Ledger struct {
	mu        sync.RWMutex
	byTx      map[string]*domain.Transaction
	byInvoice map[string]string // invoice id -> transaction id of latest attempt
	now       func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		byTx:      make(map[string]*domain.Transaction),
		byInvoice: make(map[string]string),
		now:       time.Now,
	}
}

func (l *Ledger) Record(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existingID, ok := l.byInvoice[tx.InvoiceID]; ok {
		existing := l.byTx[existingID]
		if existing.Status != domain.StatusFailed {
			if existing.Provider == tx.Provider && existing.Amount.Equal(tx.Amount) {
				return *existing, nil
			}
			return domain.Transaction{}, fmt.Errorf("%w: invoice %s", domain.ErrDuplicateInvoice, tx.InvoiceID)
		}
	}
	if _, ok := l.byTx[tx.ID]; ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s already recorded", tx.ID)
	}

	tx.Status = domain.StatusInitiated
	stored := tx
	l.byTx[tx.ID] = &stored
	l.byInvoice[tx.InvoiceID] = tx.ID
	return stored, nil
}

func (l *Ledger) ApplyStatus(ctx context.Context, transactionID string, status domain.Status) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.byTx[transactionID]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	if !tx.Status.CanTransitionTo(status) {
		return domain.Transaction{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tx.Status, status)
	}
	tx.Status = status
	tx.UpdatedAt = l.now().UTC()
	return *tx, nil
}

func (l *Ledger) FindByInvoice(ctx context.Context, invoiceID string) (domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byInvoice[invoiceID]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
	}
	return *l.byTx[id], nil
}

func (l *Ledger) FindByTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tx, ok := l.byTx[transactionID]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	return *tx, nil
}
