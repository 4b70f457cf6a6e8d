package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/zk1tty/wf-backend/internal/browsersession"
	"github.com/zk1tty/wf-backend/internal/crypto"
)

// newTestKeyringForHTTPAPI mirrors storagestate/store_test.go's
// newTestKeyring: a freshly generated RSA keypair backing a FileKeyring, so
// each test gets its own isolated key material.
func newTestKeyringForHTTPAPI(t *testing.T) *crypto.FileKeyring {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	dir := t.TempDir()
	pubPath := filepath.Join(dir, "pub.pem")
	privPath := filepath.Join(dir, "priv.pem")

	pubBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey),
	})
	if err := os.WriteFile(pubPath, pubBytes, 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}

	privBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := os.WriteFile(privPath, privBytes, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	kr, err := crypto.NewFileKeyring("test-kid", pubPath, privPath)
	if err != nil {
		t.Fatalf("NewFileKeyring() error = %v", err)
	}
	return kr
}

// noStartRunner is a browsersession.Runner that is never expected to start
// a browser in tests exercising only the HTTP façade's read paths.
type noStartRunner struct{}

func (noStartRunner) Start(ctx context.Context, sessionID string) (browsersession.BrowserSession, error) {
	panic("noStartRunner: Start should not be called in these tests")
}
func (noStartRunner) Healthy(ctx context.Context) error { return nil }
func (noStartRunner) Close() error                      { return nil }
