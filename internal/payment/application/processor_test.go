package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/abenezerm/schoolpay/internal/payment/domain"
	"github.com/abenezerm/schoolpay/internal/payment/infrastructure/memory"
	"github.com/abenezerm/schoolpay/internal/provider"
)

type fakePush struct {
	name      string
	pushErr   error
	status    provider.Status
	statusErr error
	polls     int
}

func (f *fakePush) Name() string { return f.name }

func (f *fakePush) RequestPayment(ctx context.Context, req provider.PaymentRequest) (provider.PushResult, error) {
	if f.pushErr != nil {
		return provider.PushResult{Message: "declined"}, f.pushErr
	}
	return provider.PushResult{Success: true, TransactionID: "TX-100", Message: "prompt sent"}, nil
}

func (f *fakePush) CheckStatus(ctx context.Context, transactionID string) (provider.StatusResult, error) {
	f.polls++
	if f.statusErr != nil {
		return provider.StatusResult{}, f.statusErr
	}
	return provider.StatusResult{Success: true, Status: f.status}, nil
}

func (f *fakePush) HandleCallback(ctx context.Context, fields map[string]string) (provider.CallbackResult, error) {
	if fields["sign"] != "valid" {
		return provider.CallbackResult{}, provider.ErrSignatureVerification
	}
	return provider.CallbackResult{Success: true, InvoiceID: fields["invoiceId"], Status: provider.Status(fields["status"])}, nil
}

type fakeRedirect struct{ name string }

func (f *fakeRedirect) Name() string { return f.name }

func (f *fakeRedirect) CreatePayment(ctx context.Context, req provider.PaymentRequest) (provider.CreateResult, error) {
	return provider.CreateResult{Success: true, RedirectURL: "https://pay.example/checkout/1"}, nil
}

func testLog() *slog.Logger { return slog.Default() }

func pushProcessor(t *testing.T) (*Processor, *fakePush, *memory.Ledger) {
	t.Helper()
	client := &fakePush{name: "telebirr", status: provider.StatusPending}
	ledger := memory.NewLedger()
	return NewProcessorWithClient(testLog(), client, ledger), client, ledger
}

func pushReq() provider.PaymentRequest {
	return provider.PaymentRequest{
		InvoiceID:  "INV-1",
		Amount:     decimal.RequireFromString("150.00"),
		PayerPhone: "251911000000",
	}
}

func TestNewProcessorUnknownProviderFailsFast(t *testing.T) {
	creds := provider.Credentials{Endpoint: "https://x", MerchantID: "m", Secret: "s"}
	_, err := NewProcessor(testLog(), "unknown_provider", creds, nil, memory.NewLedger())
	if !errors.Is(err, provider.ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}

func TestInitiateRecordsTransaction(t *testing.T) {
	p, _, ledger := pushProcessor(t)

	res, err := p.InitiatePayment(context.Background(), pushReq())
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if res.TransactionID != "TX-100" || res.Replayed {
		t.Fatalf("result = %+v", res)
	}

	tx, err := ledger.FindByInvoice(context.Background(), "INV-1")
	if err != nil {
		t.Fatalf("FindByInvoice: %v", err)
	}
	if tx.Status != domain.StatusInitiated || tx.Provider != "telebirr" {
		t.Fatalf("tx = %+v", tx)
	}
}

func TestInitiateValidation(t *testing.T) {
	p, _, _ := pushProcessor(t)
	ctx := context.Background()

	cases := []provider.PaymentRequest{
		{Amount: decimal.New(10, 0), PayerPhone: "2519"},            // no invoice
		{InvoiceID: "INV-1", Amount: decimal.Zero, PayerPhone: "2"}, // non-positive amount
		{InvoiceID: "INV-1", Amount: decimal.New(10, 0)},            // push without phone
	}
	for i, req := range cases {
		if _, err := p.InitiatePayment(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: err = %v, want ErrInvalidRequest", i, err)
		}
	}
}

func TestInitiateReplaysIdenticalRetry(t *testing.T) {
	p, _, _ := pushProcessor(t)
	ctx := context.Background()

	first, err := p.InitiatePayment(ctx, pushReq())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := p.InitiatePayment(ctx, pushReq())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.TransactionID != first.TransactionID {
		t.Fatalf("second = %+v", second)
	}
}

func TestInitiateRejectsChangedAmount(t *testing.T) {
	p, _, _ := pushProcessor(t)
	ctx := context.Background()

	if _, err := p.InitiatePayment(ctx, pushReq()); err != nil {
		t.Fatalf("first: %v", err)
	}
	req := pushReq()
	req.Amount = decimal.RequireFromString("999.00")
	if _, err := p.InitiatePayment(ctx, req); !errors.Is(err, domain.ErrDuplicateInvoice) {
		t.Fatalf("err = %v, want ErrDuplicateInvoice", err)
	}
}

func TestInitiateProviderFailureRecordsNothing(t *testing.T) {
	client := &fakePush{name: "telebirr", pushErr: &provider.BusinessError{Provider: "telebirr", Code: "1", Message: "declined"}}
	ledger := memory.NewLedger()
	p := NewProcessorWithClient(testLog(), client, ledger)

	_, err := p.InitiatePayment(context.Background(), pushReq())
	var be *provider.BusinessError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BusinessError", err)
	}
	if _, err := ledger.FindByInvoice(context.Background(), "INV-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("failed initiate still recorded a transaction")
	}
}

func TestInitiateRedirectAssignsTransactionID(t *testing.T) {
	ledger := memory.NewLedger()
	p := NewProcessorWithClient(testLog(), &fakeRedirect{name: "cbe"}, ledger)

	res, err := p.InitiatePayment(context.Background(), provider.PaymentRequest{
		InvoiceID: "INV-5",
		Amount:    decimal.RequireFromString("300.00"),
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if res.RedirectURL == "" || res.TransactionID == "" {
		t.Fatalf("result = %+v", res)
	}
	if _, err := ledger.FindByTransaction(context.Background(), res.TransactionID); err != nil {
		t.Fatalf("transaction not recorded: %v", err)
	}
}

func TestVerifyPaymentDoesNotMutateLedger(t *testing.T) {
	p, client, ledger := pushProcessor(t)
	ctx := context.Background()

	if _, err := p.InitiatePayment(ctx, pushReq()); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	client.status = provider.StatusCompleted

	res, err := p.VerifyPayment(ctx, "TX-100")
	if err != nil || res.Status != provider.StatusCompleted {
		t.Fatalf("VerifyPayment = %+v, %v", res, err)
	}

	tx, _ := ledger.FindByTransaction(ctx, "TX-100")
	if tx.Status != domain.StatusInitiated {
		t.Fatalf("VerifyPayment mutated the ledger: %s", tx.Status)
	}
}

func TestSettleFromPollAppliesStatus(t *testing.T) {
	p, client, ledger := pushProcessor(t)
	ctx := context.Background()

	if _, err := p.InitiatePayment(ctx, pushReq()); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	client.status = provider.StatusCompleted

	tx, err := p.SettleFromPoll(ctx, "TX-100")
	if err != nil {
		t.Fatalf("SettleFromPoll: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", tx.Status)
	}

	// A second poll observing the same settled state is a no-op, not an error.
	tx, err = p.SettleFromPoll(ctx, "TX-100")
	if err != nil {
		t.Fatalf("second SettleFromPoll: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("status after second poll = %s", tx.Status)
	}

	got, _ := ledger.FindByInvoice(ctx, "INV-1")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("ledger status = %s", got.Status)
	}
}

func TestHandleCallbackAppliesVerifiedStatus(t *testing.T) {
	p, _, ledger := pushProcessor(t)
	ctx := context.Background()

	if _, err := p.InitiatePayment(ctx, pushReq()); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	tx, err := p.HandleCallback(ctx, map[string]string{
		"invoiceId": "INV-1", "status": "completed", "sign": "valid",
	})
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if tx.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", tx.Status)
	}

	got, _ := ledger.FindByInvoice(ctx, "INV-1")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("ledger status = %s", got.Status)
	}
}

func TestHandleCallbackRejectsTamperedSignature(t *testing.T) {
	p, _, ledger := pushProcessor(t)
	ctx := context.Background()

	if _, err := p.InitiatePayment(ctx, pushReq()); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	_, err := p.HandleCallback(ctx, map[string]string{
		"invoiceId": "INV-1", "status": "completed", "sign": "tampered",
	})
	if !errors.Is(err, provider.ErrSignatureVerification) {
		t.Fatalf("err = %v, want ErrSignatureVerification", err)
	}

	got, _ := ledger.FindByInvoice(ctx, "INV-1")
	if got.Status != domain.StatusInitiated {
		t.Fatalf("rejected callback changed status to %s", got.Status)
	}
}

func TestPollingNotSupportedForRedirectClient(t *testing.T) {
	p := NewProcessorWithClient(testLog(), &fakeRedirect{name: "cbe"}, memory.NewLedger())
	if _, err := p.VerifyPayment(context.Background(), "TX-1"); !errors.Is(err, ErrPollingNotSupported) {
		t.Fatalf("err = %v, want ErrPollingNotSupported", err)
	}
}
