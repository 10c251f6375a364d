package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePair writes a self-signed certificate and its key to dir.
func writePair(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "vigil-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	cert, key := writePair(t, dir)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores files", Config{CertFile: "missing"}, false},
		{"enabled system roots", Config{Enabled: true}, false},
		{"ca only", Config{Enabled: true, CAFile: cert}, false},
		{"mutual", Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert}, false},
		{"cert without key", Config{Enabled: true, CertFile: cert}, true},
		{"key without cert", Config{Enabled: true, KeyFile: key}, true},
		{"missing ca", Config{Enabled: true, CAFile: filepath.Join(dir, "nope.pem")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	cert, key := writePair(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("disabled", func(t *testing.T) {
		cfg, err := NewClientTLSConfig(Config{})
		if err != nil || cfg != nil {
			t.Errorf("NewClientTLSConfig() = %v, %v, want nil, nil", cfg, err)
		}
	})

	t.Run("ca only", func(t *testing.T) {
		cfg, err := NewClientTLSConfig(Config{Enabled: true, CAFile: cert, ServerName: "redis.internal"})
		if err != nil {
			t.Fatalf("NewClientTLSConfig: %v", err)
		}
		if cfg.RootCAs == nil {
			t.Error("RootCAs not set")
		}
		if len(cfg.Certificates) != 0 {
			t.Errorf("len(Certificates) = %d, want 0", len(cfg.Certificates))
		}
		if cfg.ServerName != "redis.internal" {
			t.Errorf("ServerName = %q", cfg.ServerName)
		}
	})

	t.Run("mutual", func(t *testing.T) {
		cfg, err := NewClientTLSConfig(Config{Enabled: true, CertFile: cert, KeyFile: key, CAFile: cert})
		if err != nil {
			t.Fatalf("NewClientTLSConfig: %v", err)
		}
		if len(cfg.Certificates) != 1 {
			t.Errorf("len(Certificates) = %d, want 1", len(cfg.Certificates))
		}
	})

	t.Run("bad ca", func(t *testing.T) {
		if _, err := NewClientTLSConfig(Config{Enabled: true, CAFile: garbage}); err == nil {
			t.Error("expected error for unparsable CA")
		}
	})

	t.Run("key mismatch", func(t *testing.T) {
		_, otherKey := writePair(t, t.TempDir())
		if _, err := NewClientTLSConfig(Config{Enabled: true, CertFile: cert, KeyFile: otherKey}); err == nil {
			t.Error("expected error for mismatched key pair")
		}
	})
}
