package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/abenezerm/schoolpay/internal/payment/application"
	"github.com/abenezerm/schoolpay/internal/payment/domain"
	"github.com/abenezerm/schoolpay/internal/provider"
)

// ReplayGuard drops redelivered callbacks. Satisfied by idempotency.Store.
type ReplayGuard interface {
	Key(parts ...string) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	log             *slog.Logger
	procs           map[string]*application.Processor
	ledger          application.Ledger
	guard           ReplayGuard
	defaultProvider string
	baseURL         string
	tracer          trace.Tracer
}

// NewHandler builds the gateway's HTTP surface. procs maps provider name to
// its processor; guard may be nil when callback dedup is not configured.
func NewHandler(log *slog.Logger, procs map[string]*application.Processor, ledger application.Ledger, guard ReplayGuard, defaultProvider, baseURL string) *Handler {
	return &Handler{
		log:             log,
		procs:           procs,
		ledger:          ledger,
		guard:           guard,
		defaultProvider: defaultProvider,
		baseURL:         baseURL,
		tracer:          otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/payments", h.initiatePayment)
	r.Get("/payments/{invoiceID}", h.getPayment)
	r.Post("/payments/{transactionID}/verify", h.verifyPayment)
	r.Post("/callbacks/{provider}", h.handleCallback)
	return r
}

type initiateReq struct {
	Provider    string          `json:"provider"`
	InvoiceID   string          `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	PayerPhone  string          `json:"payer_phone"`
	Description string          `json:"description"`
	ReturnURL   string          `json:"return_url"`
}

type initiateResp struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitiatePayment")
	defer span.End()

	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := req.Provider
	if name == "" {
		name = h.defaultProvider
	}
	proc, ok := h.procs[name]
	if !ok {
		h.writeError(w, http.StatusBadRequest, "unsupported payment provider: "+name)
		return
	}

	res, err := proc.InitiatePayment(ctx, provider.PaymentRequest{
		InvoiceID:   req.InvoiceID,
		Amount:      req.Amount,
		PayerPhone:  req.PayerPhone,
		Description: req.Description,
		CallbackURL: h.baseURL + "/callbacks/" + name,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		h.writePaymentError(w, err, res.Message)
		return
	}
	h.writeJSON(w, http.StatusOK, initiateResp{
		Success:       true,
		TransactionID: res.TransactionID,
		RedirectURL:   res.RedirectURL,
		Replayed:      res.Replayed,
		Message:       res.Message,
	})
}

type paymentResp struct {
	TransactionID string `json:"transaction_id"`
	InvoiceID     string `json:"invoice_id"`
	Provider      string `json:"provider"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetPayment")
	defer span.End()

	tx, err := h.ledger.FindByInvoice(ctx, chi.URLParam(r, "invoiceID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, toPaymentResp(tx))
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VerifyPayment")
	defer span.End()

	txID := chi.URLParam(r, "transactionID")
	tx, err := h.ledger.FindByTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	proc, ok := h.procs[tx.Provider]
	if !ok {
		h.writeError(w, http.StatusConflict, "provider no longer configured: "+tx.Provider)
		return
	}

	settled, err := proc.SettleFromPoll(ctx, txID)
	if err != nil {
		h.writePaymentError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, toPaymentResp(settled))
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "HandleCallback")
	defer span.End()

	name := chi.URLParam(r, "provider")
	proc, ok := h.procs[name]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown provider")
		return
	}

	fields, err := parseCallbackFields(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable callback payload")
		return
	}

	var guardKey string
	if h.guard != nil && fields["sign"] != "" {
		guardKey = h.guard.Key("callback", name, fields["sign"])
		seen, err := h.guard.Seen(ctx, guardKey)
		if err != nil {
			h.log.Error("callback dedup check failed", "provider", name, "err", err)
			guardKey = ""
		} else if seen {
			h.log.Info("duplicate callback dropped", "provider", name)
			h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}

	if _, err := proc.HandleCallback(ctx, fields); err != nil {
		// Seen marked the key before the outcome was known. Release it so
		// the provider's retry of this delivery is not dropped.
		if guardKey != "" {
			if ferr := h.guard.Forget(ctx, guardKey); ferr != nil {
				h.log.Error("callback dedup release failed", "provider", name, "err", ferr)
			}
		}
		h.writePaymentError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// parseCallbackFields flattens a form-encoded or JSON callback body into the
// field map the signature codec operates on.
func parseCallbackFields(r *http.Request) (map[string]string, error) {
	fields := map[string]string{}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				fields[k] = strconv.FormatBool(val)
			}
		}
		return fields, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return fields, nil
}

func (h *Handler) writePaymentError(w http.ResponseWriter, err error, message string) {
	if message == "" {
		message = publicMessage(err)
	}
	var be *provider.BusinessError
	switch {
	case errors.Is(err, application.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, message)
	case errors.Is(err, domain.ErrDuplicateInvoice),
		errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, message)
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, message)
	case errors.Is(err, provider.ErrSignatureVerification):
		h.writeError(w, http.StatusBadRequest, "signature verification failed")
	case errors.Is(err, application.ErrPollingNotSupported),
		errors.Is(err, application.ErrCallbackNotSupported):
		h.writeError(w, http.StatusBadRequest, message)
	case errors.As(err, &be):
		h.writeError(w, http.StatusUnprocessableEntity, be.Message)
	case provider.IsRetryable(err):
		h.writeError(w, http.StatusBadGateway, message)
	default:
		h.log.Error("payment operation failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// publicMessage keeps provider secrets and internals out of responses.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, application.ErrInvalidRequest):
		return "invalid payment request"
	case errors.Is(err, domain.ErrDuplicateInvoice):
		return "invoice already has a payment in progress"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "payment already settled"
	case errors.Is(err, domain.ErrNotFound):
		return "payment not found"
	case errors.Is(err, application.ErrPollingNotSupported):
		return "provider does not support status polling"
	case errors.Is(err, application.ErrCallbackNotSupported):
		return "provider does not deliver callbacks"
	case provider.IsRetryable(err):
		return "payment provider temporarily unavailable"
	default:
		return "payment operation failed"
	}
}

func toPaymentResp(tx domain.Transaction) paymentResp {
	return paymentResp{
		TransactionID: tx.ID,
		InvoiceID:     tx.InvoiceID,
		Provider:      tx.Provider,
		Amount:        tx.Amount.StringFixed(2),
		Status:        string(tx.Status),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, map[string]any{"success": false, "message": message})
}
