package provider

import "fmt"

// Credentials holds one provider's connection settings. Immutable after
// construction; supplied from the environment, never defaulted in production.
type Credentials struct {
	// Endpoint is the provider API base URL.
	Endpoint string
	// MerchantID is the merchant or app identifier registered with the provider.
	MerchantID string
	// Secret is the signing key or token. It must never appear in logs,
	// error messages or serialized responses.
	Secret string
}

// String implements fmt.Stringer with the secret masked, so accidental
// logging of credentials never leaks the key.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials{endpoint: %s, merchant: %s, secret: ****}", c.Endpoint, c.MerchantID)
}

// Validate reports the first missing required field.
func (c Credentials) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("provider endpoint is required")
	case c.MerchantID == "":
		return fmt.Errorf("provider merchant id is required")
	case c.Secret == "":
		return fmt.Errorf("provider secret is required")
	}
	return nil
}
