package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DataProtector encrypts key material before it reaches a store.
type DataProtector interface {
	Protect(plaintext []byte) (string, error)
	Unprotect(protected string) ([]byte, error)
}

const protectorInfo = "oidc-engine signing keys v1"

// ChaChaProtector seals data with XChaCha20-Poly1305 under a key derived from a secret with HKDF.
type ChaChaProtector struct {
	key []byte
}

// NewChaChaProtector derives the sealing key from secret. The secret must not be empty.
func NewChaChaProtector(secret string) (*ChaChaProtector, error) {
	if secret == "" {
		return nil, fmt.Errorf("data protection secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(protectorInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive protection key: %w", err)
	}
	return &ChaChaProtector{key: key}, nil
}

func (p *ChaChaProtector) Protect(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (p *ChaChaProtector) Unprotect(protected string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(protected)
	if err != nil {
		return nil, fmt.Errorf("failed to decode protected data: %w", err)
	}
	aead, err := chacha20poly1305.NewX(p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("protected data is too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unprotect data: %w", err)
	}
	return plaintext, nil
}
