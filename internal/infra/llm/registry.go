package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownProvider is returned by Registry.Get for names no adapter
// was registered under.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Registry holds the configured provider adapters. It is constructed once
// at startup and shared; all methods are safe for concurrent use because
// the map is never mutated after construction.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given adapters, keyed by Name().
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns all registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available returns the sorted names of providers whose adapter accepts
// the corresponding key in keys (provider name -> API key).
func (r *Registry) Available(keys map[string]string) []string {
	var names []string
	for name, p := range r.providers {
		if key, ok := keys[name]; ok && p.Available(key) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GenerateAll fans the request out to every available provider
// concurrently and collects the successful responses. Per-provider
// failures are dropped; the result order is unspecified. req.APIKey and
// req.Model are overridden per provider (each adapter resolves its own
// default model).
func (r *Registry) GenerateAll(ctx context.Context, req Request, keys map[string]string) []*Response {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		responses []*Response
	)

	for _, name := range r.Available(keys) {
		p := r.providers[name]
		key := keys[name]

		wg.Add(1)
		go func() {
			defer wg.Done()

			preq := req
			preq.APIKey = key
			preq.Model = "" // each provider uses its own default

			resp, err := p.Generate(ctx, preq)
			if err != nil {
				slog.Warn("provider generation failed", "provider", p.Name(), "error", err)
				return
			}

			mu.Lock()
			responses = append(responses, resp)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return responses
}
