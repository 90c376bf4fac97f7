package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a provider has no secret of that name.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (string, error)

	// Provider returns the scheme that selects this provider in a
	// reference, such as "env" or "file".
	Provider() string
}
