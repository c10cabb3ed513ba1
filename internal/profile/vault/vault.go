// Package vault encrypts profile bank details at rest. Values are
// sealed with XChaCha20-Poly1305 under a key derived from the
// configured secret, so a database dump alone never yields an account
// number or BVN.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Vault seals and opens short secret strings.
type Vault struct {
	aead cipher.AEAD
}

// New derives the sealing key from the configured secret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init vault cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts value and returns base64 text with the nonce prepended.
// Each call picks a fresh nonce, so equal inputs produce distinct
// ciphertexts. Empty input stays empty.
func (v *Vault) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate vault nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Tampered ciphertext or a wrong key fails
// authentication. Empty input stays empty.
func (v *Vault) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("sealed value too short")
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
