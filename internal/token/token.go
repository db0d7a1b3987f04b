// Package token generates and masks bearer token secrets.
package token

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	secretBytes = 32

	// SecretLength is the length of a generated secret in characters.
	SecretLength = secretBytes * 2

	maskHead = 8
	maskTail = 4
)

// Generate returns a new 256-bit secret, hex encoded.
func Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Mask renders a secret for display, keeping only its first 8 and last 4
// characters. Secrets of 12 characters or fewer are returned as is.
func Mask(secret string) string {
	if len(secret) <= maskHead+maskTail {
		return secret
	}
	return secret[:maskHead] + "..." + secret[len(secret)-maskTail:]
}
