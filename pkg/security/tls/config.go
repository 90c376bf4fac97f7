package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// DefaultReloadInterval is how often certificate files are checked for
// changes when no interval is configured.
const DefaultReloadInterval = 5 * time.Minute

// Config configures TLS on the admin listener.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files.
	CertFile string `yaml:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" validate:"required_if=Enabled true"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version" validate:"omitempty,oneof=1.2 1.3"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Negative disables reloading.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"cert_reload_interval"`

	// ClientCAFile, when set, requires clients to present a certificate
	// signed by one of its CAs.
	ClientCAFile string `yaml:"client_ca_file"`
}

// ServerConfig builds the crypto/tls configuration of the admin listener.
// Certificates come from r so that renewals apply without a restart.
func (c *Config) ServerConfig(r *CertificateReloader) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if r == nil {
		return nil, fmt.Errorf("tls: certificate reloader is required")
	}

	// #nosec G402 - MinVersion is at least TLS 1.2
	cfg := &tls.Config{
		GetCertificate: r.GetCertificateFunc(),
		MinVersion:     c.minVersion(),
	}

	if c.ClientCAFile != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in client CA file %s", c.ClientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// Reloader creates the certificate reloader for c.
func (c *Config) Reloader() *CertificateReloader {
	interval := c.ReloadInterval
	if interval == 0 {
		interval = DefaultReloadInterval
	}
	return NewCertificateReloader(c.CertFile, c.KeyFile, interval)
}

func (c *Config) minVersion() uint16 {
	if c.MinVersion == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}
