// Package secretcodec encrypts TOTP shared secrets before they are stored.
package secretcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "portal-auth-totp-secret"
	keyIterations = 10000
	keyLength     = 32

	// MinKeyLength is the shortest configuration value accepted as an encryption key.
	MinKeyLength = 16
)

var (
	ErrEmptyKey          = errors.New("encryption key cannot be empty")
	ErrMalformedCipher   = errors.New("malformed ciphertext")
	ErrInvalidPlaintext  = errors.New("plaintext must be valid UTF-8")
	ErrDecryptionFailure = errors.New("failed to decrypt")
)

// Codec performs AES-256-GCM encryption with a key derived from configuration.
type Codec struct {
	key []byte
}

// New derives the AES key from encryptionKey using PBKDF2-SHA256.
func New(encryptionKey string) (*Codec, error) {
	if encryptionKey == "" {
		return nil, ErrEmptyKey
	}
	if err := ValidateKey(encryptionKey); err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(encryptionKey), []byte(keySalt), keyIterations, keyLength, sha256.New)
	return &Codec{key: key}, nil
}

// ValidateKey checks that a configured key is long enough to use.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength {
		return fmt.Errorf("encryption key must be at least %d characters long", MinKeyLength)
	}
	return nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !utf8.ValidString(plaintext) {
		return "", ErrInvalidPlaintext
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or tampered input yields an error.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrMalformedCipher
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCipher, err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedCipher)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	return string(plaintext), nil
}

func (c *Codec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
