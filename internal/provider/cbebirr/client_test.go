package cbebirr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abenezerm/schoolpay/internal/provider"
	"github.com/abenezerm/schoolpay/internal/signature"
)

const testSecret = "till-secret"

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(provider.Credentials{Endpoint: srv.URL, MerchantID: "TILL-77", Secret: testSecret}, srv.Client())
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestRequestPaymentFormEncodedAndSigned(t *testing.T) {
	var got map[string]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = map[string]string{}
		for k := range r.PostForm {
			got[k] = r.PostForm.Get(k)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"resultCode": "0", "resultDesc": "accepted", "conversationId": "CB-55",
		})
	})

	req := provider.PaymentRequest{
		InvoiceID:  "INV-7",
		Amount:     decimal.RequireFromString("220.50"),
		PayerPhone: "251922000000",
	}
	res, err := c.RequestPayment(context.Background(), req)
	if err != nil {
		t.Fatalf("RequestPayment: %v", err)
	}
	if !res.Success || res.TransactionID != "CB-55" {
		t.Fatalf("result = %+v", res)
	}

	scheme := signature.Scheme{Field: "sign", Separator: "&", Mode: signature.ModeAppend, Uppercase: true}
	if !scheme.Verify(got, testSecret) {
		t.Fatal("outbound form signature does not verify")
	}
	if got["transactionRef"] != "INV-7" || got["amount"] != "220.50" {
		t.Fatalf("form = %v", got)
	}
}

func TestRequestPaymentDecline(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"resultCode": "17", "resultDesc": "insufficient balance",
		})
	})

	_, err := c.RequestPayment(context.Background(), provider.PaymentRequest{
		InvoiceID: "INV-8", Amount: decimal.New(100, 0), PayerPhone: "251900000000",
	})
	var be *provider.BusinessError
	if !errors.As(err, &be) || be.Code != "17" {
		t.Fatalf("err = %v, want BusinessError code 17", err)
	}
}

func TestCheckStatusMapsStates(t *testing.T) {
	cases := []struct {
		state string
		want  provider.Status
	}{
		{"PENDING", provider.StatusPending},
		{"COMPLETED", provider.StatusCompleted},
		{"DECLINED", provider.StatusFailed},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"resultCode": "0", "resultDesc": "ok", "tradeState": tc.state,
			})
		})
		res, err := c.CheckStatus(context.Background(), "CB-55")
		if err != nil {
			t.Fatalf("CheckStatus(%s): %v", tc.state, err)
		}
		if res.Status != tc.want {
			t.Errorf("state %s mapped to %s, want %s", tc.state, res.Status, tc.want)
		}
	}
}

func TestCheckStatusUnknownStateIsTransportFailure(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"resultCode": "0", "resultDesc": "ok", "tradeState": "WEDGED",
		})
	})
	_, err := c.CheckStatus(context.Background(), "CB-55")
	if !provider.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable transport failure", err)
	}
}
