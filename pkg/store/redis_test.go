package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paynow/pkg/config"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisPingsServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client, err := NewRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("expected redis client, got %v", err)
	}
	defer client.Close()
	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestNewRedisErrors(t *testing.T) {
	if _, err := NewRedis(context.Background(), config.RedisConfig{}); err == nil {
		t.Fatal("expected error without address")
	}
	if _, err := NewRedis(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1", RequireTLS: true}); err == nil {
		t.Fatal("expected REDIS_REQUIRE_TLS error")
	}
	if _, err := NewRedis(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestTLSConfigDisabled(t *testing.T) {
	cfg, err := TLSConfig(config.RedisConfig{})
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}

func TestTLSConfigInsecureGuard(t *testing.T) {
	if _, err := TLSConfig(config.RedisConfig{TLS: true, TLSInsecure: true}); err == nil {
		t.Fatal("expected guard error")
	}
	cfg, err := TLSConfig(config.RedisConfig{TLS: true, TLSInsecure: true, AllowInsecureTLS: true, TLSServerName: "redis.internal"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.InsecureSkipVerify || cfg.ServerName != "redis.internal" {
		t.Fatalf("unexpected tls config %+v", cfg)
	}
}

func TestTLSConfigCAAndMTLS(t *testing.T) {
	tmp := t.TempDir()
	certPEM, keyPEM := mustCreateSelfSignedPEM(t)
	caPath := filepath.Join(tmp, "ca.pem")
	certPath := filepath.Join(tmp, "client.pem")
	keyPath := filepath.Join(tmp, "client-key.pem")
	for path, data := range map[string][]byte{caPath: certPEM, certPath: certPEM, keyPath: keyPEM} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	cfg, err := TLSConfig(config.RedisConfig{TLS: true, TLSCACertFile: caPath, TLSCertFile: certPath, TLSKeyFile: keyPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
		t.Fatalf("expected CA pool and client cert, got %+v", cfg)
	}

	if _, err := TLSConfig(config.RedisConfig{TLS: true, TLSCertFile: certPath}); err == nil {
		t.Fatal("expected error for incomplete mTLS pair")
	}
	bad := filepath.Join(tmp, "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write bad ca: %v", err)
	}
	if _, err := TLSConfig(config.RedisConfig{TLS: true, TLSCACertFile: bad}); err == nil {
		t.Fatal("expected error for invalid CA file")
	}
}

func mustCreateSelfSignedPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "paynow-redis-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return cert, priv
}
