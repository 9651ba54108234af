package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandBytes fills the provided slice with cryptographically secure random
// bytes.
func RandBytes(out []byte) ([]byte, error) {
	if len(out) == 0 {
		return out, fmt.Errorf("output slice is empty")
	}
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("rand read: %w", err)
	}
	return out, nil
}

// NewSessionToken generates an opaque adventure session token.
//
// The token is the only credential proving the right to load and mutate an
// adventure, so it uses 32 bytes of entropy.
func NewSessionToken() (string, error) {
	buf, err := RandBytes(make([]byte, 32))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
