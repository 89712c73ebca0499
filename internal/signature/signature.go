// Package signature implements the canonicalization and signing rules the
// payment providers apply to request and callback field sets. Each provider
// publishes its own rule, so the codec is configured per provider rather
// than shared.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Mode selects how the shared secret enters the digest.
type Mode string

const (
	// ModeHMAC keys an HMAC-SHA256 with the secret.
	ModeHMAC Mode = "hmac"
	// ModeAppend appends the secret to the canonical string before hashing,
	// the rule used by the CBE family of gateways.
	ModeAppend Mode = "append"
)

// Scheme describes one provider's canonicalization and signing rule.
type Scheme struct {
	// Field is the name of the signature field. It is excluded from
	// canonicalization and carries the computed signature on the wire.
	Field string

	// Separator joins the key=value pairs of the canonical string.
	Separator string

	// Mode is the secret mixing rule.
	Mode Mode

	// Uppercase emits the hex digest in upper case.
	Uppercase bool
}

// DefaultScheme returns the rule shared by the providers integrated so far:
// sign field named "sign", pairs joined by "&", secret appended, lower-case hex.
func DefaultScheme() Scheme {
	return Scheme{Field: "sign", Separator: "&", Mode: ModeAppend}
}

// Canonicalize orders fields by key ascending and joins them as key=value
// pairs. The signature field itself is never part of the canonical string.
// The result is independent of the map's insertion order.
func (s Scheme) Canonicalize(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == s.Field {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(s.Separator)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// Sign computes the hex signature of fields under secret.
func (s Scheme) Sign(fields map[string]string, secret string) string {
	canonical := s.Canonicalize(fields)

	var sum []byte
	switch s.Mode {
	case ModeHMAC:
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(canonical))
		sum = mac.Sum(nil)
	default:
		h := sha256.Sum256([]byte(canonical + secret))
		sum = h[:]
	}

	sig := hex.EncodeToString(sum)
	if s.Uppercase {
		sig = strings.ToUpper(sig)
	}
	return sig
}

// Verify recomputes the signature over all fields except the declared one and
// compares in constant time. A missing or empty signature field fails closed.
func (s Scheme) Verify(fields map[string]string, secret string) bool {
	declared, ok := fields[s.Field]
	if !ok || declared == "" {
		return false
	}
	expected := s.Sign(fields, secret)
	return hmac.Equal([]byte(strings.ToLower(declared)), []byte(strings.ToLower(expected)))
}
