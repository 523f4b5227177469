package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// HandleByteLength is the entropy of reference tokens, refresh tokens, codes and request ids.
const HandleByteLength = 32

// RandomHandle returns n random bytes encoded as unpadded base64url.
func RandomHandle(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashedKey derives the storage key of a handle so raw handles never reach the store.
func HashedKey(handle, kind string) string {
	sum := sha256.Sum256([]byte(handle + ":" + kind))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sha256Base64 hashes a value the way client and API secrets are stored.
func Sha256Base64(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.StdEncoding.EncodeToString(sum[:])
}
