// Package telebirr implements the telebirr push-payment client. A payment
// request triggers a USSD prompt on the payer's handset; confirmation arrives
// later through the notify URL or a status poll.
package telebirr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/abenezerm/schoolpay/internal/provider"
	"github.com/abenezerm/schoolpay/internal/signature"
)

const Name = "telebirr"

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
	nonce  func() string
}

func New(creds provider.Credentials, hc *http.Client) *Client {
	return &Client{
		creds:  creds,
		hc:     hc,
		scheme: signature.Scheme{Field: "sign", Separator: "&", Mode: signature.ModeHMAC},
		now:    time.Now,
		nonce:  uuid.NewString,
	}
}

func (c *Client) Name() string { return Name }

// envelope is telebirr's uniform response wrapper. code "0" means accepted;
// any other code is a business decline.
type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TransactionID string `json:"transactionId"`
		TradeStatus   string `json:"tradeStatus"`
	} `json:"data"`
}

// RequestPayment asks telebirr to push a payment prompt to the payer's phone.
// It returns as soon as the prompt is accepted; it does not confirm payment.
func (c *Client) RequestPayment(ctx context.Context, req provider.PaymentRequest) (provider.PushResult, error) {
	fields := map[string]string{
		"appId":       c.creds.MerchantID,
		"outTradeNo":  req.InvoiceID,
		"totalAmount": req.Amount.StringFixed(2),
		"subject":     req.Description,
		"msisdn":      req.PayerPhone,
		"notifyUrl":   req.CallbackURL,
		"timestamp":   strconv.FormatInt(c.now().Unix(), 10),
		"nonce":       c.nonce(),
	}
	fields["sign"] = c.scheme.Sign(fields, c.creds.Secret)

	env, err := c.post(ctx, "/payment/v1/ussd-push", fields)
	if err != nil {
		return provider.PushResult{Message: "payment request could not reach telebirr"}, err
	}
	if env.Code != "0" {
		return provider.PushResult{Message: env.Msg}, &provider.BusinessError{Provider: Name, Code: env.Code, Message: env.Msg}
	}
	if env.Data.TransactionID == "" {
		err := &provider.TransportError{Provider: Name, Err: fmt.Errorf("accepted response missing transactionId")}
		return provider.PushResult{Message: "telebirr returned an incomplete response"}, err
	}
	return provider.PushResult{Success: true, TransactionID: env.Data.TransactionID, Message: env.Msg}, nil
}

// CheckStatus polls the transaction state. It is a pure read and safe to
// call repeatedly.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (provider.StatusResult, error) {
	fields := map[string]string{
		"appId":         c.creds.MerchantID,
		"transactionId": transactionID,
		"timestamp":     strconv.FormatInt(c.now().Unix(), 10),
	}
	fields["sign"] = c.scheme.Sign(fields, c.creds.Secret)

	env, err := c.post(ctx, "/payment/v1/query", fields)
	if err != nil {
		return provider.StatusResult{Message: "status query could not reach telebirr"}, err
	}
	if env.Code != "0" {
		return provider.StatusResult{Message: env.Msg}, &provider.BusinessError{Provider: Name, Code: env.Code, Message: env.Msg}
	}
	status, ok := mapTradeStatus(env.Data.TradeStatus)
	if !ok {
		err := &provider.TransportError{Provider: Name, Err: fmt.Errorf("unknown trade status %q", env.Data.TradeStatus)}
		return provider.StatusResult{Message: "telebirr returned an unknown status"}, err
	}
	return provider.StatusResult{Success: true, Status: status, Message: env.Msg}, nil
}

// HandleCallback validates a notify-URL delivery. The signature is checked
// before any field is trusted.
func (c *Client) HandleCallback(ctx context.Context, fields map[string]string) (provider.CallbackResult, error) {
	if !c.scheme.Verify(fields, c.creds.Secret) {
		return provider.CallbackResult{Message: "signature mismatch"}, provider.ErrSignatureVerification
	}
	status, ok := mapTradeStatus(fields["tradeStatus"])
	if !ok {
		return provider.CallbackResult{Message: "unknown trade status"},
			&provider.TransportError{Provider: Name, Err: fmt.Errorf("unknown trade status %q", fields["tradeStatus"])}
	}
	return provider.CallbackResult{Success: true, InvoiceID: fields["outTradeNo"], Status: status}, nil
}

func (c *Client) post(ctx context.Context, path string, fields map[string]string) (*envelope, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &provider.TransportError{Provider: Name, Err: fmt.Errorf("endpoint returned %s", resp.Status)}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &env, nil
}

func mapTradeStatus(s string) (provider.Status, bool) {
	switch s {
	case "PENDING", "INPROGRESS":
		return provider.StatusPending, true
	case "SUCCESS", "COMPLETED":
		return provider.StatusCompleted, true
	case "FAILED", "CANCELED", "EXPIRED":
		return provider.StatusFailed, true
	default:
		return "", false
	}
}
