// Package crypto implements the two-layer envelope scheme used to persist
// browser storage-state blobs: a fresh AES-256-GCM data key wraps the
// plaintext, and an RSA-OAEP-SHA256 keypair wraps the data key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// ErrorKind enumerates the taxonomy from spec.md §4.1/§7.
type ErrorKind string

const (
	KindKeyMissing   ErrorKind = "key_missing"
	KindKIDMismatch  ErrorKind = "kid_mismatch"
	KindDecryptFailed ErrorKind = "decrypt_failed"
	KindParseFailed  ErrorKind = "parse_failed"
)

// Error is the CryptoError taxonomy named in spec.md §4.1.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("crypto: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

const (
	keySize   = 32 // 256-bit AES data key
	nonceSize = 12 // 96-bit GCM nonce
)

// Envelope holds ciphertext/nonce/wrapped_key as raw bytes. They are
// persisted as raw bytes in binary columns; nothing in this tree
// base64-encodes them.
type Envelope struct {
	Ciphertext []byte
	Nonce      []byte
	WrappedKey []byte
	KID        string
}

// Keyring resolves a kid to the RSA keypair that can encrypt/decrypt
// envelopes under it. Implementations are expected to hold only the
// public key for some kids (e.g. on a component that only ever encrypts)
// and the private key may be absent entirely, in which case Decrypt
// operations against that kid fail with KindKeyMissing.
type Keyring interface {
	PublicKey(kid string) (*rsa.PublicKey, error)
	PrivateKey(kid string) (*rsa.PrivateKey, error)
}

// Seal implements steps 1-4 of spec.md §4.1: generate K and N, AEAD-encrypt
// plaintext under K, then RSA-OAEP-wrap K under the kid's public key.
func Seal(keyring Keyring, kid string, plaintext []byte) (*Envelope, error) {
	pub, err := keyring.PublicKey(kid)
	if err != nil {
		return nil, newError(KindKeyMissing, err)
	}

	dataKey := make([]byte, keySize)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("generate data key: %w", err))
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("generate nonce: %w", err))
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("init cipher: %w", err))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("init gcm: %w", err))
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, dataKey, nil)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("wrap data key: %w", err))
	}

	return &Envelope{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		WrappedKey: wrappedKey,
		KID:        kid,
	}, nil
}

// Open reverses Seal: unwrap the data key with the kid's private key, then
// AEAD-decrypt the ciphertext.
func Open(keyring Keyring, env *Envelope) ([]byte, error) {
	if env.KID == "" {
		return nil, newError(KindKIDMismatch, fmt.Errorf("envelope has no kid"))
	}

	priv, err := keyring.PrivateKey(env.KID)
	if err != nil {
		return nil, newError(KindKeyMissing, err)
	}

	dataKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.WrappedKey, nil)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("unwrap data key: %w", err))
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("init cipher: %w", err))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("init gcm: %w", err))
	}

	if len(env.Nonce) != nonceSize {
		return nil, newError(KindParseFailed, fmt.Errorf("nonce must be %d bytes, got %d", nonceSize, len(env.Nonce)))
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, newError(KindDecryptFailed, fmt.Errorf("aead open: %w", err))
	}

	return plaintext, nil
}
