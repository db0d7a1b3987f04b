package auth

import (
	"errors"
	"testing"
)

func TestVerifyAdminKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		supplied   string
		want       error
	}{
		{"match", "s3cret", "s3cret", nil},
		{"mismatch", "s3cret", "guess", ErrAdminKeyInvalid},
		{"prefix of key", "s3cret", "s3c", ErrAdminKeyInvalid},
		{"missing header", "s3cret", "", ErrAdminKeyInvalid},
		{"not configured", "", "anything", ErrAdminKeyMissing},
		{"not configured and missing", "", "", ErrAdminKeyMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyAdminKey(tt.configured, tt.supplied)
			if !errors.Is(err, tt.want) {
				t.Errorf("VerifyAdminKey(%q, %q) = %v, want %v", tt.configured, tt.supplied, err, tt.want)
			}
		})
	}
}

func TestParseBearer(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc123", "abc123", nil},
		{"trailing whitespace", "Bearer abc123 ", "abc123", nil},
		{"missing", "", "", ErrMissingAuthHeader},
		{"wrong scheme", "Basic abc123", "", ErrMalformedAuthHeader},
		{"lowercase scheme", "bearer abc123", "", ErrMalformedAuthHeader},
		{"scheme only", "Bearer", "", ErrEmptyBearerToken},
		{"scheme and space", "Bearer ", "", ErrEmptyBearerToken},
		{"two tokens", "Bearer abc def", "", ErrMalformedAuthHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBearer(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseBearer(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBearer(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	if string(hashSecret("a")) != string(hashSecret("a")) {
		t.Error("hashSecret is not deterministic")
	}
	if string(hashSecret("a")) == string(hashSecret("b")) {
		t.Error("hashSecret should differ for different input")
	}
}
