package codec

import (
	"strings" // Prefix checks

	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Tag prefixes a stored value to mark it as ciphertext.
type Tag string

// Tags in use. Values without a known tag are legacy plaintext.
const (
	TagAccountNumber Tag = "ENC::"  // Account numbers
	TagIBAN          Tag = "IBAN::" // IBANs, also on log rows and payees
	TagSecret        Tag = "ENC::"  // Two-factor secrets
)

var knownTags = []Tag{TagAccountNumber, TagIBAN}

// Kind tells plaintext and ciphertext values apart.
type Kind int

const (
	Plain     Kind = iota // Legacy or never sealed
	Encrypted             // Carries a known tag
)

// Stored is a column value split into its at-rest form.
type Stored struct {
	Kind    Kind   // Plain or Encrypted
	Tag     Tag    // Empty for plaintext
	Payload string // Value without the tag
}

// Parse classifies a stored column value.
func Parse(stored string) Stored {
	for _, t := range knownTags {
		if strings.HasPrefix(stored, string(t)) {
			return Stored{Kind: Encrypted, Tag: t, Payload: stored[len(t):]}
		}
	}
	return Stored{Kind: Plain, Payload: stored}
}

// NeedsBackfill reports whether a non-empty stored value is still plaintext.
func NeedsBackfill(stored string) bool {
	return stored != "" && Parse(stored).Kind == Plain
}

// Seal encrypts plain and prefixes the tag. Empty input stays empty.
func (c *Codec) Seal(tag Tag, plain string) (string, error) {
	if plain == "" {
		return "", nil // Nothing to seal
	}
	token, err := c.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return string(tag) + token, nil
}

// SealIdentifier normalizes an account number or IBAN before sealing it.
func (c *Codec) SealIdentifier(tag Tag, plain string) (string, error) {
	return c.Seal(tag, Normalize(plain))
}

// Open returns the plaintext of a stored value. Untagged values pass through unchanged.
// A tagged value that fails to decrypt yields ("", false) and a warning.
func (c *Codec) Open(stored string) (string, bool) {
	s := Parse(stored)
	if s.Kind == Plain {
		return s.Payload, true // Not yet backfilled
	}
	plain, err := c.Decrypt(s.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"tag":   string(s.Tag),
			"error": err.Error(),
		}).Warn("stored value failed to decrypt")
		return "", false
	}
	return plain, true
}

// OpenPtr is Open for nullable columns.
func (c *Codec) OpenPtr(stored *string) string {
	if stored == nil {
		return ""
	}
	plain, _ := c.Open(*stored)
	return plain
}
