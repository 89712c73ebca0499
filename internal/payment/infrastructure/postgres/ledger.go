// Package postgres implements the durable transaction ledger. Status
// transitions run inside a database transaction with the row locked, so a
// callback and a poll racing to settle the same payment serialize on the row
// and only one terminal transition is retained. Every recorded change writes
// an outbox row in the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/abenezerm/schoolpay/internal/payment/domain"
)

type Ledger struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewLedger(log *slog.Logger, pool *pgxpool.Pool) *Ledger {
	return &Ledger{log: log, pool: pool, now: time.Now}
}

// EnsureSchema creates the ledger and outbox tables when absent.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			invoice_id     TEXT NOT NULL,
			provider       TEXT NOT NULL,
			amount         NUMERIC(14,2) NOT NULL,
			status         TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transactions_invoice_idx ON transactions (invoice_id, created_at DESC);
		CREATE TABLE IF NOT EXISTS outbox (
			id             BIGSERIAL PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			type           TEXT NOT NULL,
			payload        JSONB NOT NULL,
			headers        JSONB,
			traceparent    TEXT,
			status         TEXT NOT NULL DEFAULT 'pending',
			relay_id       TEXT,
			lease_until    TIMESTAMPTZ,
			retry_count    INT NOT NULL DEFAULT 0,
			last_error     TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (l *Ledger) Record(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Transaction{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	existing, err := scanOne(tx.QueryRow(ctx, `
		SELECT transaction_id, invoice_id, provider, amount::text, status, created_at, updated_at
		FROM transactions WHERE invoice_id=$1
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, t.InvoiceID))
	switch {
	case err == nil:
		if existing.Status != domain.StatusFailed {
			if existing.Provider == t.Provider && existing.Amount.Equal(t.Amount) {
				return existing, nil
			}
			return domain.Transaction{}, fmt.Errorf("%w: invoice %s", domain.ErrDuplicateInvoice, t.InvoiceID)
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.Transaction{}, err
	}

	t.Status = domain.StatusInitiated
	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (transaction_id, invoice_id, provider, amount, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.InvoiceID, t.Provider, t.Amount.String(), t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}

	event := domain.PaymentInitiated{TransactionID: t.ID, InvoiceID: t.InvoiceID, Provider: t.Provider, Amount: t.Amount}
	if err := l.queueEvent(ctx, tx, t.ID, "PaymentInitiated", event); err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (l *Ledger) ApplyStatus(ctx context.Context, transactionID string, status domain.Status) (domain.Transaction, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Transaction{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, err := scanOne(tx.QueryRow(ctx, `
		SELECT transaction_id, invoice_id, provider, amount::text, status, created_at, updated_at
		FROM transactions WHERE transaction_id=$1
		FOR UPDATE`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Transaction{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Transaction{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	now := l.now().UTC()
	_, err = tx.Exec(ctx, `UPDATE transactions SET status=$2, updated_at=$3 WHERE transaction_id=$1`,
		transactionID, status, now)
	if err != nil {
		return domain.Transaction{}, err
	}
	current.Status = status
	current.UpdatedAt = now

	switch status {
	case domain.StatusCompleted:
		event := domain.PaymentCompleted{TransactionID: current.ID, InvoiceID: current.InvoiceID, Provider: current.Provider, Amount: current.Amount}
		if err := l.queueEvent(ctx, tx, current.ID, "PaymentCompleted", event); err != nil {
			return domain.Transaction{}, err
		}
	case domain.StatusFailed:
		event := domain.PaymentFailed{TransactionID: current.ID, InvoiceID: current.InvoiceID, Provider: current.Provider}
		if err := l.queueEvent(ctx, tx, current.ID, "PaymentFailed", event); err != nil {
			return domain.Transaction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, err
	}
	return current, nil
}

func (l *Ledger) FindByInvoice(ctx context.Context, invoiceID string) (domain.Transaction, error) {
	t, err := scanOne(l.pool.QueryRow(ctx, `
		SELECT transaction_id, invoice_id, provider, amount::text, status, created_at, updated_at
		FROM transactions WHERE invoice_id=$1
		ORDER BY created_at DESC LIMIT 1`, invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
	}
	return t, err
}

func (l *Ledger) FindByTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	t, err := scanOne(l.pool.QueryRow(ctx, `
		SELECT transaction_id, invoice_id, provider, amount::text, status, created_at, updated_at
		FROM transactions WHERE transaction_id=$1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrNotFound)
	}
	return t, err
}

func (l *Ledger) queueEvent(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers, _ := json.Marshal(map[string]string{"source": "payment-gateway"})
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('payment',$1,$2,$3,$4,$5,'pending')`,
		aggregateID, eventType, payload, headers, carrier.Get("traceparent"))
	return err
}

func scanOne(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	var amount string
	if err := row.Scan(&t.ID, &t.InvoiceID, &t.Provider, &amount, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Transaction{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parse stored amount: %w", err)
	}
	t.Amount = parsed
	return t, nil
}
