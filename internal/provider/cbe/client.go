// Package cbe implements the CBE internet-banking redirect client. Creating
// a payment yields a provider-hosted checkout URL; the outcome arrives as a
// signed callback to the merchant URL.
package cbe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abenezerm/schoolpay/internal/provider"
	"github.com/abenezerm/schoolpay/internal/signature"
)

const Name = "cbe"

func init() {
	provider.Register(Name, func(creds provider.Credentials, hc *http.Client) (provider.Client, error) {
		return New(creds, hc), nil
	})
}

type Client struct {
	creds  provider.Credentials
	hc     *http.Client
	scheme signature.Scheme
	now    func() time.Time
}

func New(creds provider.Credentials, hc *http.Client) *Client {
	return &Client{
		creds:  creds,
		hc:     hc,
		scheme: signature.DefaultScheme(),
		now:    time.Now,
	}
}

func (c *Client) Name() string { return Name }

type checkoutReply struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	PaymentURL string `json:"paymentUrl"`
}

// CreatePayment opens a checkout session. On success the payer's browser must
// be redirected to the returned URL; on failure no transaction exists upstream.
func (c *Client) CreatePayment(ctx context.Context, req provider.PaymentRequest) (provider.CreateResult, error) {
	fields := map[string]string{
		"merchantId": c.creds.MerchantID,
		"invoiceId":  req.InvoiceID,
		"amount":     req.Amount.StringFixed(2),
		"narrative":  req.Description,
		"notifyUrl":  req.CallbackURL,
		"returnUrl":  req.ReturnURL,
		"timestamp":  strconv.FormatInt(c.now().Unix(), 10),
	}
	fields["sign"] = c.scheme.Sign(fields, c.creds.Secret)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.Endpoint+"/api/v1/checkout", strings.NewReader(form.Encode()))
	if err != nil {
		return provider.CreateResult{Message: "checkout request could not be built"}, &provider.TransportError{Provider: Name, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return provider.CreateResult{Message: "checkout request could not reach CBE"}, &provider.TransportError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return provider.CreateResult{Message: "CBE gateway unavailable"},
			&provider.TransportError{Provider: Name, Err: fmt.Errorf("endpoint returned %s", resp.Status)}
	}
	var rep checkoutReply
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return provider.CreateResult{Message: "CBE returned an unreadable response"},
			&provider.TransportError{Provider: Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rep.Status != "OK" {
		return provider.CreateResult{Message: rep.Message},
			&provider.BusinessError{Provider: Name, Code: rep.Status, Message: rep.Message}
	}
	if rep.PaymentURL == "" {
		return provider.CreateResult{Message: "CBE returned no checkout URL"},
			&provider.TransportError{Provider: Name, Err: fmt.Errorf("OK response missing paymentUrl")}
	}
	return provider.CreateResult{Success: true, RedirectURL: rep.PaymentURL, Message: rep.Message}, nil
}

// HandleCallback validates the signed notification delivered after checkout.
func (c *Client) HandleCallback(ctx context.Context, fields map[string]string) (provider.CallbackResult, error) {
	if !c.scheme.Verify(fields, c.creds.Secret) {
		return provider.CallbackResult{Message: "signature mismatch"}, provider.ErrSignatureVerification
	}
	status, ok := mapCallbackStatus(fields["status"])
	if !ok {
		return provider.CallbackResult{Message: "unknown callback status"},
			&provider.TransportError{Provider: Name, Err: fmt.Errorf("unknown callback status %q", fields["status"])}
	}
	return provider.CallbackResult{Success: true, InvoiceID: fields["invoiceId"], Status: status}, nil
}

func mapCallbackStatus(s string) (provider.Status, bool) {
	switch s {
	case "SUCCESS", "PAID":
		return provider.StatusCompleted, true
	case "FAILURE", "FAILED", "CANCELED":
		return provider.StatusFailed, true
	case "PENDING":
		return provider.StatusPending, true
	default:
		return "", false
	}
}
