package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Factory builds a client from credentials and an HTTP client. The HTTP
// client carries the per-provider timeout and circuit breaker.
type Factory func(creds Credentials, httpClient *http.Client) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a client constructor available under name. Provider
// packages call it from init; importing the package is enough to enable it.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("provider: Register called twice for %q", name))
	}
	registry[name] = f
}

// New resolves name to a registered factory and builds the client. An
// unknown name fails with ErrUnsupportedProvider before any network call.
func New(name string, creds Credentials, httpClient *http.Client) (Client, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return f(creds, httpClient)
}

// Names lists the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
