package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeCert writes a self-signed certificate and key valid from notBefore
// to notAfter and returns their paths.
func writeCert(t *testing.T, dir, cn string, notBefore, notAfter time.Time) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{"localhost"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	writePEM(t, certFile, "CERTIFICATE", der)
	writePEM(t, keyFile, "EC PRIVATE KEY", keyDER)
	return certFile, keyFile
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func validCert(t *testing.T, dir, cn string) (string, string) {
	now := time.Now()
	return writeCert(t, dir, cn, now.Add(-time.Hour), now.Add(90*24*time.Hour))
}

func TestCertificateReloader_Start(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		setup   func(dir string) (string, string)
		wantErr string
	}{
		{
			name:  "valid",
			setup: func(dir string) (string, string) { return validCert(t, dir, "admin") },
		},
		{
			name: "expired",
			setup: func(dir string) (string, string) {
				return writeCert(t, dir, "old", now.Add(-48*time.Hour), now.Add(-24*time.Hour))
			},
			wantErr: "expired",
		},
		{
			name: "not yet valid",
			setup: func(dir string) (string, string) {
				return writeCert(t, dir, "future", now.Add(24*time.Hour), now.Add(48*time.Hour))
			},
			wantErr: "not yet valid",
		},
		{
			name: "missing files",
			setup: func(dir string) (string, string) {
				return filepath.Join(dir, "none.pem"), filepath.Join(dir, "none.key")
			},
			wantErr: "no such file",
		},
		{
			name: "garbage",
			setup: func(dir string) (string, string) {
				c, k := filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem")
				_ = os.WriteFile(c, []byte("not a cert"), 0o600)
				_ = os.WriteFile(k, []byte("not a key"), 0o600)
				return c, k
			},
			wantErr: "PEM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certFile, keyFile := tt.setup(t.TempDir())
			r := NewCertificateReloader(certFile, keyFile, 0)
			err := r.Start(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Start() error = %v", err)
				}
				if r.Certificate() == nil {
					t.Error("Certificate() = nil after Start")
				}
				if err := r.Check(context.Background()); err != nil {
					t.Errorf("Check() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Start() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCertificateReloader_BeforeStart(t *testing.T) {
	r := NewCertificateReloader("c", "k", 0)
	if _, err := r.GetCertificateFunc()(&tls.ClientHelloInfo{}); err == nil {
		t.Error("GetCertificate before Start should fail")
	}
	if err := r.Check(context.Background()); err == nil {
		t.Error("Check before Start should fail")
	}
}

func TestCertificateReloader_ReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := validCert(t, dir, "first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewCertificateReloader(certFile, keyFile, 10*time.Millisecond)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := r.Certificate()

	validCert(t, dir, "second")
	future := time.Now().Add(time.Minute)
	for _, f := range []string{certFile, keyFile} {
		if err := os.Chtimes(f, future, future); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Certificate() != first {
			cert, err := r.GetCertificateFunc()(&tls.ClientHelloInfo{})
			if err != nil {
				t.Fatal(err)
			}
			leaf, _ := x509.ParseCertificate(cert.Certificate[0])
			if leaf.Subject.CommonName != "second" {
				t.Errorf("reloaded CN = %q", leaf.Subject.CommonName)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("certificate was not reloaded")
}

func TestCertificateReloader_KeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := validCert(t, dir, "good")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := NewCertificateReloader(certFile, keyFile, 10*time.Millisecond)
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	good := r.Certificate()

	if err := os.WriteFile(certFile, []byte("broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if r.Certificate() != good {
		t.Error("broken files replaced the loaded certificate")
	}
}

func TestConfig_ServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := validCert(t, dir, "admin")

	disabled := &Config{}
	if cfg, err := disabled.ServerConfig(nil); cfg != nil || err != nil {
		t.Errorf("disabled ServerConfig() = %v, %v", cfg, err)
	}

	tests := []struct {
		name        string
		cfg         Config
		wantVersion uint16
		wantMTLS    bool
		wantErr     bool
	}{
		{"default 1.3", Config{Enabled: true}, tls.VersionTLS13, false, false},
		{"1.2", Config{Enabled: true, MinVersion: "1.2"}, tls.VersionTLS12, false, false},
		{"client CA", Config{Enabled: true, ClientCAFile: certFile}, tls.VersionTLS13, true, false},
		{"bad client CA", Config{Enabled: true, ClientCAFile: keyFile}, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.CertFile, tt.cfg.KeyFile = certFile, keyFile
			r := tt.cfg.Reloader()
			if err := r.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			got, err := tt.cfg.ServerConfig(r)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ServerConfig() error = %v", err)
			}
			if got.MinVersion != tt.wantVersion {
				t.Errorf("MinVersion = %x, want %x", got.MinVersion, tt.wantVersion)
			}
			if (got.ClientAuth == tls.RequireAndVerifyClientCert) != tt.wantMTLS {
				t.Errorf("ClientAuth = %v", got.ClientAuth)
			}
			if _, err := got.GetCertificate(&tls.ClientHelloInfo{}); err != nil {
				t.Errorf("GetCertificate() error = %v", err)
			}
		})
	}

	if _, err := (&Config{Enabled: true}).ServerConfig(nil); err == nil {
		t.Error("enabled ServerConfig(nil) should fail")
	}
}

func TestCheckCertificateExpiration(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		notAfter time.Time
		wantWarn bool
	}{
		{"long lived", now.Add(365 * 24 * time.Hour), false},
		{"expiring soon", now.Add(10 * 24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, warning := CheckCertificateExpiration(&x509.Certificate{NotAfter: tt.notAfter})
			if (warning != "") != tt.wantWarn {
				t.Errorf("warning = %q, wantWarn %v", warning, tt.wantWarn)
			}
		})
	}
}
