package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
)

// FileKeyring loads a single RSA keypair from PEM files on disk, keyed by
// a single configured kid (COOKIE_KID / COOKIE_PUBLIC_KEY_PATH /
// COOKIE_PRIVATE_KEY_PATH in internal/config). It is the only Keyring
// implementation this service needs: key rotation introduces a second kid
// by pointing at new files and redeploying, not by this type supporting
// multiple concurrent kids.
type FileKeyring struct {
	mu      sync.RWMutex
	kid     string
	pub     *rsa.PublicKey
	priv    *rsa.PrivateKey
	privSet bool
}

// NewFileKeyring loads the public key (always required) and, if
// privateKeyPath is non-empty, the private key too. A component that only
// ever seals envelopes (never opens them) can omit the private key path.
func NewFileKeyring(kid, publicKeyPath, privateKeyPath string) (*FileKeyring, error) {
	pubBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := parsePublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	kr := &FileKeyring{kid: kid, pub: pub}

	if privateKeyPath != "" {
		privBytes, err := os.ReadFile(privateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		priv, err := parsePrivateKey(privBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		kr.priv = priv
		kr.privSet = true
	}

	return kr, nil
}

func (k *FileKeyring) PublicKey(kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if kid != k.kid {
		return nil, fmt.Errorf("no public key registered for kid %q", kid)
	}
	return k.pub, nil
}

func (k *FileKeyring) PrivateKey(kid string) (*rsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if kid != k.kid {
		return nil, fmt.Errorf("no private key registered for kid %q", kid)
	}
	if !k.privSet {
		return nil, fmt.Errorf("private key for kid %q not loaded on this component", kid)
	}
	return k.priv, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return pub, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS8 private key: %w", err)
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}
