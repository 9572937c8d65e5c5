package auth

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/restcore/internal/apierr"
	"github.com/roach88/restcore/internal/ir"
)

// AnonymousProvider is the built-in provider for anonymous users.
const AnonymousProvider = "anonymous"

// ValidatorFunc checks the auth data presented for one provider.
type ValidatorFunc func(ctx context.Context, authData ir.Object) error

// Providers holds the auth data validators of a tenant.
type Providers struct {
	mu         sync.RWMutex
	validators map[string]ValidatorFunc
}

// NewProviders returns a registry containing the anonymous provider.
func NewProviders() *Providers {
	p := &Providers{validators: make(map[string]ValidatorFunc)}
	p.Register(AnonymousProvider, func(ctx context.Context, authData ir.Object) error {
		return nil
	})
	return p
}

// Register adds or replaces the validator for provider.
func (p *Providers) Register(provider string, fn ValidatorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.validators[provider] = fn
}

// Names returns the registered provider names, sorted.
func (p *Providers) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.validators))
	for name := range p.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate runs the validator for provider. Unknown providers are rejected
// with UnsupportedService; validator failures without a code become
// ObjectNotFound, matching a login against unknown credentials.
func (p *Providers) Validate(ctx context.Context, provider string, authData ir.Object) error {
	p.mu.RLock()
	fn, ok := p.validators[provider]
	p.mu.RUnlock()
	if !ok {
		return apierr.New(apierr.UnsupportedService, "This authentication method is unsupported.")
	}
	if err := fn(ctx, authData); err != nil {
		if _, ok := apierr.As(err); ok {
			return err
		}
		return apierr.Wrap(apierr.ObjectNotFound, err, "%s auth is invalid for this user.", provider)
	}
	return nil
}
