package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Resolver expands secret references of the form "<scheme>:<name>". A
// value without a registered scheme is returned unchanged.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver over providers, keyed by their scheme.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Provider()] = p
	}
	return r
}

// DefaultResolver resolves "env:NAME" from the environment and
// "file:PATH" relative to baseDir.
func DefaultResolver(baseDir string) *Resolver {
	return NewResolver(NewEnvProvider(""), NewFileProvider(baseDir))
}

// Resolve expands ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, name, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, nil
	}
	p, ok := r.providers[scheme]
	if !ok {
		return ref, nil
	}
	if name == "" {
		return "", fmt.Errorf("secret reference %q has no name", ref)
	}
	value, err := p.GetSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return value, nil
}
