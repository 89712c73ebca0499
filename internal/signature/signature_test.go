package signature

import "testing"

func TestCanonicalizeOrdersKeysAndSkipsSignField(t *testing.T) {
	s := DefaultScheme()
	fields := map[string]string{
		"outTradeNo": "INV-1",
		"amount":     "150.00",
		"msisdn":     "251911000000",
		"sign":       "should-not-appear",
	}
	got := s.Canonicalize(fields)
	want := "amount=150.00&msisdn=251911000000&outTradeNo=INV-1"
	if got != want {
		t.Fatalf("canonical = %q, want %q", got, want)
	}
}

func TestCanonicalizeInsertionOrderIndependent(t *testing.T) {
	s := DefaultScheme()
	a := map[string]string{}
	a["z"] = "1"
	a["a"] = "2"
	a["m"] = "3"
	b := map[string]string{}
	b["m"] = "3"
	b["z"] = "1"
	b["a"] = "2"
	if s.Canonicalize(a) != s.Canonicalize(b) {
		t.Fatal("canonical string depends on insertion order")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	for _, mode := range []Mode{ModeAppend, ModeHMAC} {
		s := Scheme{Field: "sign", Separator: "&", Mode: mode}
		fields := map[string]string{"invoiceId": "INV-9", "status": "completed"}
		fields["sign"] = s.Sign(fields, "s3cret")
		if !s.Verify(fields, "s3cret") {
			t.Errorf("mode %s: round trip verification failed", mode)
		}
	}
}

func TestVerifyRejectsTamperedFields(t *testing.T) {
	s := DefaultScheme()
	fields := map[string]string{"invoiceId": "INV-2", "status": "completed"}
	fields["sign"] = s.Sign(fields, "s3cret")
	fields["status"] = "failed"
	if s.Verify(fields, "s3cret") {
		t.Fatal("verification passed for tampered fields")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s := DefaultScheme()
	fields := map[string]string{"invoiceId": "INV-2"}
	fields["sign"] = s.Sign(fields, "s3cret")
	if s.Verify(fields, "other") {
		t.Fatal("verification passed under the wrong secret")
	}
}

func TestVerifyFailsClosedWithoutSignature(t *testing.T) {
	s := DefaultScheme()
	if s.Verify(map[string]string{"invoiceId": "INV-3"}, "s3cret") {
		t.Fatal("verification passed with no signature field")
	}
	if s.Verify(map[string]string{"invoiceId": "INV-3", "sign": ""}, "s3cret") {
		t.Fatal("verification passed with an empty signature field")
	}
}

func TestSignDiffersAcrossValues(t *testing.T) {
	s := DefaultScheme()
	a := s.Sign(map[string]string{"amount": "100.00"}, "k")
	b := s.Sign(map[string]string{"amount": "100.01"}, "k")
	if a == b {
		t.Fatal("distinct field sets produced the same signature")
	}
}

func TestVerifyAcceptsUppercaseDeclaredSignature(t *testing.T) {
	s := Scheme{Field: "sign", Separator: "&", Mode: ModeAppend, Uppercase: true}
	fields := map[string]string{"transactionRef": "INV-4", "amount": "55.50"}
	fields["sign"] = s.Sign(fields, "k")
	if !s.Verify(fields, "k") {
		t.Fatal("uppercase scheme failed to verify its own signature")
	}
}
