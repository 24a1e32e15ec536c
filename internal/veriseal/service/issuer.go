package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

const (
	tokenBytes = 32
	codeDigits = 6

	// No 0/O or 1/I so ids survive being read aloud or hand-copied.
	idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	idSuffix   = 6
)

const (
	codeSpace = 1_000_000
	// Largest multiple of codeSpace that fits in a uint32; draws at or
	// above it are rejected to keep the modulo unbiased.
	codeLimit = (1 << 32) / codeSpace * codeSpace
)

// Issuer produces package tokens, verification codes and human-readable
// package ids. It does no I/O beyond reading its entropy source.
type Issuer struct {
	rand io.Reader
}

// NewIssuer reads entropy from r, or crypto/rand when r is nil.
func NewIssuer(r io.Reader) *Issuer {
	if r == nil {
		r = rand.Reader
	}
	return &Issuer{rand: r}
}

// IssueToken returns a 256-bit base64url capability token.
func (i *Issuer) IssueToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssueVerificationCode returns a uniformly distributed 6-digit code.
func (i *Issuer) IssueVerificationCode() (string, error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(i.rand, b[:]); err != nil {
			return "", fmt.Errorf("issue verification code: %w", err)
		}
		n := binary.BigEndian.Uint32(b[:])
		if n < codeLimit {
			return fmt.Sprintf("%0*d", codeDigits, n%codeSpace), nil
		}
	}
}

// IssuePackageID returns PKG-YYYYMMDD-XXXXXX for the UTC date of now.
func (i *Issuer) IssuePackageID(now time.Time) (string, error) {
	b := make([]byte, idSuffix)
	if _, err := io.ReadFull(i.rand, b); err != nil {
		return "", fmt.Errorf("issue package id: %w", err)
	}
	// len(idAlphabet) divides 256, so masking is unbiased.
	for k := range b {
		b[k] = idAlphabet[int(b[k])&(len(idAlphabet)-1)]
	}
	return "PKG-" + now.UTC().Format("20060102") + "-" + string(b), nil
}

// ValidCode reports whether code has the shape IssueVerificationCode produces.
func ValidCode(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for k := 0; k < len(code); k++ {
		if code[k] < '0' || code[k] > '9' {
			return false
		}
	}
	return true
}
