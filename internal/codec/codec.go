// Package codec protects account identifiers at rest.
//
// Values are encrypted with AES-256-GCM under a random nonce, so equal plaintexts never produce
// equal ciphertexts. Equality lookups use Hash, a deterministic SHA-256 digest stored beside the
// ciphertext.
package codec

import (
	"crypto/aes"      // Block cipher
	"crypto/cipher"   // GCM mode
	"crypto/rand"     // Nonces
	"crypto/sha256"   // Key derivation and blind index
	"encoding/base64" // Token encoding
	"encoding/hex"    // Hash encoding
	"errors"          // Sentinel errors
	"fmt"             // Error wrapping
	"strings"         // Normalization
	"unicode"         // Whitespace detection
)

const (
	nonceSize = 12 // GCM standard nonce
	tagSize   = 16 // GCM authentication tag
)

var (
	// ErrMissingKey is returned when no secret is configured.
	ErrMissingKey = errors.New("codec: encryption secret is required")
	// ErrDecrypt is returned for malformed or tampered tokens.
	ErrDecrypt = errors.New("codec: unable to decrypt value")
)

// Codec encrypts and decrypts field values with a process-wide key.
type Codec struct {
	aead cipher.AEAD // AES-256-GCM
}

// New derives the key from secret with SHA-256.
func New(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingKey
	}
	key := sha256.Sum256([]byte(secret)) // 32 bytes selects AES-256
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns base64(nonce | tag | ciphertext).
func (c *Codec) Encrypt(plain string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("codec: nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plain), nil)
	// Seal appends the tag; move it in front of the ciphertext.
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+tagSize+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(raw) < nonceSize+tagSize {
		return "", ErrDecrypt
	}
	nonce := raw[:nonceSize]                  // Leading nonce
	tag := raw[nonceSize : nonceSize+tagSize] // Then the tag
	ct := raw[nonceSize+tagSize:]             // Ciphertext last

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt // Wrong key or tampered token
	}
	return string(plain), nil
}

// Normalize strips all whitespace and upper-cases s.
func Normalize(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1 // Drop
		}
		return r
	}, s))
}

// Hash returns the hex SHA-256 of the normalized value, or "" for an empty value.
func Hash(s string) string {
	n := Normalize(s)
	if n == "" {
		return "" // Nothing to index
	}
	sum := sha256.Sum256([]byte(n))
	return hex.EncodeToString(sum[:])
}
