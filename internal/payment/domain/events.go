package domain

import "github.com/shopspring/decimal"

// Lifecycle events published through the outbox for the surrounding
// school-management app (notifications, fee reports).

type PaymentInitiated struct {
	TransactionID string
	InvoiceID     string
	Provider      string
	Amount        decimal.Decimal
}

type PaymentCompleted struct {
	TransactionID string
	InvoiceID     string
	Provider      string
	Amount        decimal.Decimal
}

type PaymentFailed struct {
	TransactionID string
	InvoiceID     string
	Provider      string
}
