// Package auth implements the admin-key and bearer-token header checks that
// gate the API.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

// AdminHeader carries the admin secret on token issuance requests.
const AdminHeader = "X-Admin-Key"

var (
	ErrAdminKeyMissing = errors.New("Admin API key not configured. Token creation is disabled.")
	ErrAdminKeyInvalid = errors.New("Admin authorization required. Include 'X-Admin-Key' header with valid admin key.")

	ErrMissingAuthHeader   = errors.New("Missing Authorization header. Include 'Authorization: Bearer <token>' in your request.")
	ErrMalformedAuthHeader = errors.New("Invalid Authorization header format. Use 'Authorization: Bearer <token>'.")
	ErrEmptyBearerToken    = errors.New("Empty bearer token. Use 'Authorization: Bearer <token>'.")
)

// VerifyAdminKey checks supplied against the configured admin secret. With
// no secret configured issuance is disabled outright.
func VerifyAdminKey(configured, supplied string) error {
	if configured == "" {
		return ErrAdminKeyMissing
	}
	if supplied == "" {
		return ErrAdminKeyInvalid
	}
	// Hashing first keeps the comparison independent of either length.
	if subtle.ConstantTimeCompare(hashSecret(configured), hashSecret(supplied)) != 1 {
		return ErrAdminKeyInvalid
	}
	return nil
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	scheme, rest, _ := strings.Cut(header, " ")
	if scheme != "Bearer" {
		return "", ErrMalformedAuthHeader
	}
	tok := strings.TrimSpace(rest)
	if tok == "" {
		return "", ErrEmptyBearerToken
	}
	if strings.ContainsAny(tok, " \t") {
		return "", ErrMalformedAuthHeader
	}
	return tok, nil
}

func hashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}
