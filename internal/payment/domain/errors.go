package domain

import "errors"

var (
	// ErrDuplicateInvoice is returned when an invoice already has a live
	// transaction and the new request does not match it.
	ErrDuplicateInvoice = errors.New("duplicate invoice")

	// ErrInvalidTransition is returned when a status change is requested
	// outside the allowed edges. The transaction is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	ErrNotFound = errors.New("transaction not found")
)
