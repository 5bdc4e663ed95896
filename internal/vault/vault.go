package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidEnvelope is returned when a stored token envelope cannot be
// decoded or fails authentication.
var ErrInvalidEnvelope = errors.New("invalid token envelope")

// Vault seals and opens mailbox refresh tokens with a process-wide
// symmetric key. The stored envelope is base64(nonce || ciphertext) with a
// 12-byte nonce.
type Vault struct {
	key []byte
}

func New(key string) (*Vault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Vault{key: []byte(key)}, nil
}

func (v *Vault) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Open(envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", ErrInvalidEnvelope
	}

	aead, err := chacha20poly1305.New(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidEnvelope
	}

	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	return string(plaintext), nil
}
