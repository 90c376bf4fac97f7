package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. The name is upper
// cased, hyphens become underscores and Prefix is prepended, so
// "ops-key" with prefix "IRONBEE_SECRET_" reads IRONBEE_SECRET_OPS_KEY.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment variable provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// GetSecret reads the variable for name. Empty variables count as unset.
func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	envVar := p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%w: env var %s", ErrNotFound, envVar)
	}
	return value, nil
}

// Provider returns "env".
func (p *EnvProvider) Provider() string { return "env" }
