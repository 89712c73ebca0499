// Package provider defines the boundary to the external payment gateways and
// a registry mapping provider names to client constructors. Concrete clients
// live in subpackages and register themselves on import.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentRequest carries the generic fields every provider call is built from.
type PaymentRequest struct {
	InvoiceID   string
	Amount      decimal.Decimal
	PayerPhone  string
	Description string
	CallbackURL string
	ReturnURL   string
}

// Status is a provider-reported payment state, normalised across providers.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CreateResult is the outcome of a redirect-style payment creation.
type CreateResult struct {
	Success     bool
	RedirectURL string
	Message     string
}

// PushResult is the outcome of a push-style payment request. The provider has
// prompted the payer's device; confirmation arrives later via callback or poll.
type PushResult struct {
	Success       bool
	TransactionID string
	Message       string
}

// StatusResult is the outcome of a status poll.
type StatusResult struct {
	Success bool
	Status  Status
	Message string
}

// CallbackResult is the verified content of an inbound provider notification.
type CallbackResult struct {
	Success   bool
	InvoiceID string
	Status    Status
	Message   string
}

// Client is the common surface of every provider adapter.
type Client interface {
	Name() string
}

// RedirectClient is implemented by providers that host the payment page
// themselves; the payer's browser is sent to RedirectURL and the outcome
// arrives on the merchant callback URL.
type RedirectClient interface {
	Client
	CreatePayment(ctx context.Context, req PaymentRequest) (CreateResult, error)
}

// PushClient is implemented by providers that push a confirmation prompt to
// the payer's device. CheckStatus is a pure read and safe to poll repeatedly.
type PushClient interface {
	Client
	RequestPayment(ctx context.Context, req PaymentRequest) (PushResult, error)
	CheckStatus(ctx context.Context, transactionID string) (StatusResult, error)
}

// CallbackHandler is implemented by providers that deliver asynchronous
// status notifications. Implementations must verify the declared signature
// before trusting any field.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, fields map[string]string) (CallbackResult, error)
}
