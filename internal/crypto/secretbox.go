package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// DeriveSealKey derives the 32-byte archive sealing key from the master
// secret.
func DeriveSealKey(masterSecret string) *[32]byte {
	sum := sha256.Sum256([]byte("reverie-archive:" + masterSecret))
	key := new([32]byte)
	copy(key[:], sum[:])
	return key
}

// Seal encrypts data using NaCl SecretBox (XSalsa20-Poly1305).
// Format: [nonce (24 bytes)][encrypted data + auth tag]
func Seal(plaintext []byte, secret *[32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	encrypted := secretbox.Seal(nil, plaintext, &nonce, secret)

	result := make([]byte, 24+len(encrypted))
	copy(result[0:24], nonce[:])
	copy(result[24:], encrypted)
	return result, nil
}

// Open decrypts data sealed with Seal.
func Open(sealed []byte, secret *[32]byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed data too short")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[0:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, secret)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plaintext, nil
}
