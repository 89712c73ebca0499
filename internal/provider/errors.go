package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProvider is returned at construction time when no client
	// is registered under the requested name.
	ErrUnsupportedProvider = errors.New("unsupported payment provider")

	// ErrSignatureVerification marks an inbound callback whose declared
	// signature did not match. No state change may follow from it.
	ErrSignatureVerification = errors.New("callback signature verification failed")
)

// TransportError wraps a network, timeout or malformed-response failure.
// These are retryable; retry policy belongs to the caller.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessError is a provider-declared decline. It is final and surfaced to
// the caller verbatim.
type BusinessError struct {
	Provider string
	Code     string
	Message  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: provider declined (code %s): %s", e.Provider, e.Code, e.Message)
}

// IsRetryable reports whether err is a transport-class failure worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
