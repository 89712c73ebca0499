package provider

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// breakerTransport trips a circuit breaker on repeated transport failures so
// a dead provider endpoint does not tie up every fee-payment request.
type breakerTransport struct {
	base http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.cb.Execute(func() (interface{}, error) {
		return t.base.RoundTrip(req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}

// NewHTTPClient returns an HTTP client with a bounded timeout and a named
// circuit breaker, one per provider.
func NewHTTPClient(name string, timeout time.Duration) *http.Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &http.Client{
		Timeout:   timeout,
		Transport: &breakerTransport{base: http.DefaultTransport, cb: cb},
	}
}
