package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
)

// MinKeyLength is the shortest accepted secret.
const MinKeyLength = 16

var (
	// ErrMissingKey is returned when a request carries no API key.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidKey is returned for a key that matches no configured key.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrKeyDisabled is returned for a configured key that is disabled.
	ErrKeyDisabled = errors.New("API key disabled")
)

// Key is a named admin API key.
type Key struct {
	// Name identifies the key holder in logs. It is never the secret.
	Name string `yaml:"name" validate:"required"`

	// Key is the secret presented by clients, or a reference such as
	// "env:OPS_KEY" or "file:/run/secrets/ops".
	Key string `yaml:"key" validate:"required"`

	Disabled bool `yaml:"disabled"`
}

// Resolver expands secret references.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// ResolveKeys returns keys with every secret expanded by r. Secrets
// shorter than MinKeyLength are rejected.
func ResolveKeys(ctx context.Context, keys []Key, r Resolver) ([]Key, error) {
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		secret, err := r.Resolve(ctx, k.Key)
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		if len(secret) < MinKeyLength {
			return nil, fmt.Errorf("api key %q: secret shorter than %d characters", k.Name, MinKeyLength)
		}
		k.Key = secret
		out = append(out, k)
	}
	return out, nil
}

// KeySet validates presented keys against the configured set. It is safe
// for concurrent use.
type KeySet struct {
	mu   sync.RWMutex
	keys []Key
}

// NewKeySet creates a key set. Keys with an empty secret are ignored.
func NewKeySet(keys []Key) *KeySet {
	s := &KeySet{}
	s.Replace(keys)
	return s
}

// Replace swaps the configured keys.
func (s *KeySet) Replace(keys []Key) {
	kept := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k.Key != "" {
			kept = append(kept, k)
		}
	}
	s.mu.Lock()
	s.keys = kept
	s.mu.Unlock()
}

// Len returns the number of configured keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Validate returns the key matching presented. Every configured key is
// compared in constant time.
func (s *KeySet) Validate(presented string) (Key, error) {
	if presented == "" {
		return Key{}, ErrMissingKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		match Key
		found bool
	)
	for _, k := range s.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(presented)) == 1 {
			match, found = k, true
		}
	}
	switch {
	case !found:
		return Key{}, ErrInvalidKey
	case match.Disabled:
		return Key{}, ErrKeyDisabled
	default:
		return match, nil
	}
}
