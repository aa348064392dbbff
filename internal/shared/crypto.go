package shared

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// EncryptionVersion is stored next to encrypted columns. Version 0 means plaintext.
const EncryptionVersion = 1

// Encryptor encrypts credential strings before they are written to the database.
type Encryptor interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
}

// AESEncryptor implements [Encryptor] using AES-256-GCM.
//
// Ciphertexts are base64(nonce || sealed) so they fit in text columns.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key
// (for example the output of `openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("%w: encryption key is empty", ErrInvalidConfig)
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid base64: %v", ErrInvalidConfig, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrInvalidConfig, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESEncryptor{aead: aead}, nil
}

// EncryptString seals plaintext. Empty input stays empty so unset credentials remain recognisable.
func (e *AESEncryptor) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by [AESEncryptor.EncryptString].
func (e *AESEncryptor) DecryptString(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	size := e.aead.NonceSize()
	if len(raw) < size+e.aead.Overhead() {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}

	plain, err := e.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
