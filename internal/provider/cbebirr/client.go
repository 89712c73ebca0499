// Package cbebirr implements the CBE Birr push-payment client. The wire
// format is form-encoded and signatures are upper-case SHA-256 digests over
// the canonical string with the secret appended. There is no notify URL;
// confirmation is obtained by polling.
package cbebirr

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

const Name = "cbe_birr"

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
		scheme: signature.Scheme{Field: "sign", Separator: "&", Mode: signature.ModeAppend, Uppercase: true},
		now:    time.Now,
	}
}

func (c *Client) Name() string { return Name }

type reply struct {
	ResultCode     string `json:"resultCode"`
	ResultDesc     string `json:"resultDesc"`
	ConversationID string `json:"conversationId"`
	TradeState     string `json:"tradeState"`
}

// RequestPayment asks CBE Birr to prompt the payer. The returned conversation
// id is the provider transaction id used for polling.
func (c *Client) RequestPayment(ctx context.Context, req provider.PaymentRequest) (provider.PushResult, error) {
	fields := map[string]string{
		"merchantCode":   c.creds.MerchantID,
		"transactionRef": req.InvoiceID,
		"amount":         req.Amount.StringFixed(2),
		"msisdn":         req.PayerPhone,
		"narrative":      req.Description,
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
	}
	fields["sign"] = c.scheme.Sign(fields, c.creds.Secret)

	rep, err := c.postForm(ctx, "/v1/push", fields)
	if err != nil {
		return provider.PushResult{Message: "payment request could not reach CBE Birr"}, err
	}
	if rep.ResultCode != "0" {
		return provider.PushResult{Message: rep.ResultDesc},
			&provider.BusinessError{Provider: Name, Code: rep.ResultCode, Message: rep.ResultDesc}
	}
	if rep.ConversationID == "" {
		err := &provider.TransportError{Provider: Name, Err: fmt.Errorf("accepted response missing conversationId")}
		return provider.PushResult{Message: "CBE Birr returned an incomplete response"}, err
	}
	return provider.PushResult{Success: true, TransactionID: rep.ConversationID, Message: rep.ResultDesc}, nil
}

// CheckStatus polls the conversation state; repeated calls are side-effect free.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (provider.StatusResult, error) {
	fields := map[string]string{
		"merchantCode":   c.creds.MerchantID,
		"conversationId": transactionID,
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
	}
	fields["sign"] = c.scheme.Sign(fields, c.creds.Secret)

	rep, err := c.postForm(ctx, "/v1/query", fields)
	if err != nil {
		return provider.StatusResult{Message: "status query could not reach CBE Birr"}, err
	}
	if rep.ResultCode != "0" {
		return provider.StatusResult{Message: rep.ResultDesc},
			&provider.BusinessError{Provider: Name, Code: rep.ResultCode, Message: rep.ResultDesc}
	}
	status, ok := mapTradeState(rep.TradeState)
	if !ok {
		err := &provider.TransportError{Provider: Name, Err: fmt.Errorf("unknown trade state %q", rep.TradeState)}
		return provider.StatusResult{Message: "CBE Birr returned an unknown state"}, err
	}
	return provider.StatusResult{Success: true, Status: status, Message: rep.ResultDesc}, nil
}

func (c *Client) postForm(ctx context.Context, path string, fields map[string]string) (*reply, error) {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.Endpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &provider.TransportError{Provider: Name, Err: fmt.Errorf("endpoint returned %s", resp.Status)}
	}
	var rep reply
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, &provider.TransportError{Provider: Name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &rep, nil
}

func mapTradeState(s string) (provider.Status, bool) {
	switch s {
	case "PENDING", "PROCESSING":
		return provider.StatusPending, true
	case "COMPLETED", "SUCCESS":
		return provider.StatusCompleted, true
	case "FAILED", "DECLINED", "TIMEOUT":
		return provider.StatusFailed, true
	default:
		return "", false
	}
}
