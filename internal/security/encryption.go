// Package security seals session artifacts at rest and masks secrets for
// display.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ---------------------------------------------------------------------------
// Artifact sealing: AES-256-GCM with an argon2id-derived key
// ---------------------------------------------------------------------------

// SealedPrefix marks a sealed value.
const SealedPrefix = "enc:v1:"

// Key derivation parameters. Changing any of them makes existing sealed
// artifacts unreadable, which surfaces as corrupt data and a re-login.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

var kdfSalt = []byte("pinsession/cookies/v1")

// ErrNotSealed is returned by Open for values without SealedPrefix.
var ErrNotSealed = errors.New("security: value is not sealed")

// Sealer encrypts and decrypts artifacts. It is safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from passphrase with argon2id.
func NewSealer(passphrase string) (*Sealer, error) {
	if len(passphrase) < 8 {
		return nil, fmt.Errorf("passphrase must be at least 8 characters")
	}

	key := argon2.IDKey([]byte(passphrase), kdfSalt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns "enc:v1:" followed by base64 of
// nonce||ciphertext.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}

	data, err := base64.StdEncoding.DecodeString(sealed[len(SealedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether value carries SealedPrefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// ---------------------------------------------------------------------------
// Value masking for logs and output
// ---------------------------------------------------------------------------

// MaskSecret shows the first and last showChars characters of value and
// replaces the middle with asterisks.
func MaskSecret(value string, showChars int) string {
	if len(value) <= showChars*2 {
		return strings.Repeat("*", len(value))
	}
	return value[:showChars] + strings.Repeat("*", len(value)-showChars*2) + value[len(value)-showChars:]
}
