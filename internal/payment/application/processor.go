package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/abenezerm/schoolpay/internal/payment/domain"
	"github.com/abenezerm/schoolpay/internal/provider"
)

var (
	ErrInvalidRequest       = errors.New("invalid payment request")
	ErrPollingNotSupported  = errors.New("provider does not support status polling")
	ErrCallbackNotSupported = errors.New("provider does not deliver callbacks")
)

// Processor is the facade the rest of the application talks to. It is bound
// to exactly one provider client, resolved by name at construction time.
type Processor struct {
	log    *slog.Logger
	client provider.Client
	ledger Ledger
	now    func() time.Time
	newID  func() string
}

// NewProcessor resolves name through the provider registry; an unknown name
// fails with provider.ErrUnsupportedProvider before any network activity.
func NewProcessor(log *slog.Logger, name string, creds provider.Credentials, hc *http.Client, ledger Ledger) (*Processor, error) {
	client, err := provider.New(name, creds, hc)
	if err != nil {
		return nil, err
	}
	return NewProcessorWithClient(log, client, ledger), nil
}

// NewProcessorWithClient binds an already-constructed client, for callers
// that manage their own client wiring.
func NewProcessorWithClient(log *slog.Logger, client provider.Client, ledger Ledger) *Processor {
	return &Processor{
		log:    log,
		client: client,
		ledger: ledger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Provider returns the bound provider name.
func (p *Processor) Provider() string { return p.client.Name() }

// InitiateResult is returned from InitiatePayment. RedirectURL is set for
// redirect-style providers; Replayed marks an idempotent retry that matched
// an existing live transaction.
type InitiateResult struct {
	TransactionID string
	RedirectURL   string
	Replayed      bool
	Message       string
}

// InitiatePayment delegates to the bound client and records the resulting
// transaction. Retried initiate calls with identical provider and amount
// replay the existing transaction; any other invoice reuse is rejected.
func (p *Processor) InitiatePayment(ctx context.Context, req provider.PaymentRequest) (InitiateResult, error) {
	if err := p.validate(req); err != nil {
		return InitiateResult{}, err
	}

	existing, err := p.ledger.FindByInvoice(ctx, req.InvoiceID)
	switch {
	case err == nil:
		if existing.Status != domain.StatusFailed {
			if existing.Provider == p.client.Name() && existing.Amount.Equal(req.Amount) {
				p.log.Info("initiate replayed", "invoice_id", req.InvoiceID, "transaction_id", existing.ID)
				return InitiateResult{TransactionID: existing.ID, Replayed: true, Message: "payment already initiated"}, nil
			}
			return InitiateResult{}, fmt.Errorf("%w: invoice %s", domain.ErrDuplicateInvoice, req.InvoiceID)
		}
		// A failed transaction does not block a fresh attempt.
	case !errors.Is(err, domain.ErrNotFound):
		return InitiateResult{}, err
	}

	var result InitiateResult
	var txID string

	switch c := p.client.(type) {
	case provider.PushClient:
		res, err := c.RequestPayment(ctx, req)
		if err != nil {
			p.log.Warn("payment request failed", "provider", p.client.Name(), "invoice_id", req.InvoiceID, "err", err)
			return InitiateResult{Message: res.Message}, err
		}
		txID = res.TransactionID
		result = InitiateResult{TransactionID: txID, Message: res.Message}
	case provider.RedirectClient:
		res, err := c.CreatePayment(ctx, req)
		if err != nil {
			p.log.Warn("checkout creation failed", "provider", p.client.Name(), "invoice_id", req.InvoiceID, "err", err)
			return InitiateResult{Message: res.Message}, err
		}
		txID = p.newID()
		result = InitiateResult{TransactionID: txID, RedirectURL: res.RedirectURL, Message: res.Message}
	default:
		return InitiateResult{}, fmt.Errorf("provider %q supports neither push nor redirect payments", p.client.Name())
	}

	tx := domain.NewTransaction(txID, req.InvoiceID, p.client.Name(), req.Amount, p.now().UTC())
	if _, err := p.ledger.Record(ctx, tx); err != nil {
		return InitiateResult{}, err
	}
	p.log.Info("payment initiated", "provider", p.client.Name(), "invoice_id", req.InvoiceID, "transaction_id", txID)
	return result, nil
}

// VerifyPayment polls the provider for the transaction state. It never
// mutates the ledger; settlement is applied explicitly via SettleFromPoll or
// the callback path.
func (p *Processor) VerifyPayment(ctx context.Context, transactionID string) (provider.StatusResult, error) {
	pc, ok := p.client.(provider.PushClient)
	if !ok {
		return provider.StatusResult{}, fmt.Errorf("%w: %s", ErrPollingNotSupported, p.client.Name())
	}
	return pc.CheckStatus(ctx, transactionID)
}

// SettleFromPoll polls the provider and applies the observed status to the
// ledger. Re-applying a status the transaction already holds is a no-op.
func (p *Processor) SettleFromPoll(ctx context.Context, transactionID string) (domain.Transaction, error) {
	res, err := p.VerifyPayment(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return p.apply(ctx, transactionID, mapStatus(res.Status))
}

// HandleCallback verifies and applies an inbound provider notification. On
// signature failure nothing is applied and the error is surfaced; the caller
// should treat it as a security event.
func (p *Processor) HandleCallback(ctx context.Context, fields map[string]string) (domain.Transaction, error) {
	ch, ok := p.client.(provider.CallbackHandler)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("%w: %s", ErrCallbackNotSupported, p.client.Name())
	}
	res, err := ch.HandleCallback(ctx, fields)
	if err != nil {
		if errors.Is(err, provider.ErrSignatureVerification) {
			p.log.Warn("callback rejected", "provider", p.client.Name(), "reason", "signature verification failed")
		}
		return domain.Transaction{}, err
	}

	tx, err := p.ledger.FindByInvoice(ctx, res.InvoiceID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("callback for unknown invoice %s: %w", res.InvoiceID, err)
	}
	return p.apply(ctx, tx.ID, mapStatus(res.Status))
}

// apply runs a ledger transition, tolerating the case where the transaction
// already holds the target status (a callback and a poll racing to the same
// outcome).
func (p *Processor) apply(ctx context.Context, transactionID string, status domain.Status) (domain.Transaction, error) {
	tx, err := p.ledger.ApplyStatus(ctx, transactionID, status)
	if err == nil {
		p.log.Info("payment status applied", "transaction_id", transactionID, "status", status)
		return tx, nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, findErr := p.ledger.FindByTransaction(ctx, transactionID)
		if findErr == nil && current.Status == status {
			return current, nil
		}
		p.log.Warn("status transition rejected", "transaction_id", transactionID, "to", status, "err", err)
	}
	return tx, err
}

func (p *Processor) validate(req provider.PaymentRequest) error {
	if req.InvoiceID == "" {
		return fmt.Errorf("%w: invoice id is required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if _, push := p.client.(provider.PushClient); push && req.PayerPhone == "" {
		return fmt.Errorf("%w: payer phone is required for %s", ErrInvalidRequest, p.client.Name())
	}
	return nil
}

func mapStatus(s provider.Status) domain.Status {
	switch s {
	case provider.StatusCompleted:
		return domain.StatusCompleted
	case provider.StatusFailed:
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}
