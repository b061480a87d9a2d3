// Package identifier generates account numbers and IBANs.
package identifier

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"banking_system/internal/codec"
)

const (
	bankCodeWidth = 8
	accountWidth  = 10
	accountModulo = 10_000_000_000 // 10^accountWidth
)

// ErrInvalidCountry is returned for country codes that are not two letters.
var ErrInvalidCountry = errors.New("identifier: country code must be two letters")

// NewAccountNumber returns ACC-{6 digits of unix millis}-{12 random hex chars}.
func NewAccountNumber() (string, error) {
	return newAccountNumber(time.Now())
}

func newAccountNumber(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("identifier: %w", err)
	}
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > 6 {
		millis = millis[len(millis)-6:]
	}
	return fmt.Sprintf("ACC-%s-%s", millis, strings.ToUpper(hex.EncodeToString(b))), nil
}

// Generator builds IBANs for a fixed country and bank code.
type Generator struct {
	country  string
	bankCode string
}

// NewGenerator validates the country and pads or truncates the bank code to eight digits.
func NewGenerator(country, bankCode string) (*Generator, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if len(country) != 2 || !isLetter(country[0]) || !isLetter(country[1]) {
		return nil, ErrInvalidCountry
	}
	return &Generator{country: country, bankCode: fixedDigits(bankCode, bankCodeWidth)}, nil
}

// IBAN derives a check-digit-valid IBAN from an account number.
func (g *Generator) IBAN(accountNumber string) string {
	sum := sha256.Sum256([]byte(codec.Normalize(accountNumber)))
	payload := fmt.Sprintf("%0*d", accountWidth, binary.BigEndian.Uint64(sum[:8])%accountModulo)
	bban := g.bankCode + payload
	return g.country + CheckDigits(g.country, bban) + bban
}

// CheckDigits computes the ISO 7064 mod 97-10 check digits for country and bban.
func CheckDigits(country, bban string) string {
	rem := mod97(strings.ToUpper(bban + country + "00"))
	return fmt.Sprintf("%02d", 98-rem)
}

// ValidIBAN reports whether s is a well-formed IBAN with correct check digits.
// Whitespace and case are ignored.
func ValidIBAN(s string) bool {
	iban := codec.Normalize(s)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	if !isLetter(iban[0]) || !isLetter(iban[1]) || !isDigit(iban[2]) || !isDigit(iban[3]) {
		return false
	}
	for i := 4; i < len(iban); i++ {
		if !isLetter(iban[i]) && !isDigit(iban[i]) {
			return false
		}
	}
	return mod97(iban[4:]+iban[:4]) == 1
}

// mod97 reduces an alphanumeric string, letters expanded A=10..Z=35, modulo 97.
func mod97(s string) int {
	rem := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case isDigit(ch):
			rem = (rem*10 + int(ch-'0')) % 97
		case isLetter(ch):
			rem = (rem*100 + int(ch-'A') + 10) % 97
		}
	}
	return rem
}

// fixedDigits keeps the digits of s, left-pads with zeros and keeps the last width digits.
func fixedDigits(s string, width int) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	d := b.String()
	if len(d) < width {
		d = strings.Repeat("0", width-len(d)) + d
	}
	return d[len(d)-width:]
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
