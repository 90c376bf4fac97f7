package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads one secret per file, the layout of mounted
// Kubernetes secrets. Files must be regular and mode 0600 or 0400.
// Relative names resolve against BasePath.
type FileProvider struct {
	BasePath string
}

// NewFileProvider creates a file provider.
func NewFileProvider(basePath string) *FileProvider {
	return &FileProvider{BasePath: basePath}
}

// GetSecret returns the file content with surrounding whitespace trimmed.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) && p.BasePath != "" {
		path = filepath.Join(p.BasePath, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", path)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return value, nil
}

// Provider returns "file".
func (p *FileProvider) Provider() string { return "file" }
