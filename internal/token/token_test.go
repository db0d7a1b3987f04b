package token

import (
	"testing"
)

func TestGenerate(t *testing.T) {
	tok, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(tok) != SecretLength {
		t.Errorf("token length = %d, want %d", len(tok), SecretLength)
	}

	for _, c := range tok {
		if !((c >= 'a' && c <= 'f') || (c >= '0' && c <= '9')) {
			t.Errorf("token contains non-hex character: %c", c)
		}
	}
}

func TestGenerateUniqueness(t *testing.T) {
	const n = 100
	tokens := make(map[string]bool, n)

	for i := 0; i < n; i++ {
		tok, err := Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if tokens[tok] {
			t.Errorf("duplicate token generated: %s", tok)
		}
		tokens[tok] = true
	}
}

func TestMask(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"full length", "0123456789abcdef0123456789abcdef", "01234567...cdef"},
		{"thirteen chars", "abcdefghijklm", "abcdefgh...jklm"},
		{"twelve chars unmasked", "abcdefghijkl", "abcdefghijkl"},
		{"short unmasked", "test", "test"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mask(tt.secret); got != tt.want {
				t.Errorf("Mask(%q) = %q, want %q", tt.secret, got, tt.want)
			}
		})
	}
}
