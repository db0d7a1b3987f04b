package validate

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTokenName(t *testing.T) {
	valid := []string{"T", "My Token", "ci-token_2", strings.Repeat("a", 100)}
	for _, name := range valid {
		assert.True(t, TokenName(name), "expected %q to be valid", name)
	}

	invalid := []string{"", strings.Repeat("a", 101), "<script>", "token!", "name.with.dots", "ünïcode"}
	for _, name := range invalid {
		assert.False(t, TokenName(name), "expected %q to be invalid", name)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("  hello \n"))
	assert.Equal(t, "<b>kept</b>", Sanitize("<b>kept</b>"))

	long := Sanitize(strings.Repeat("x", 1500))
	assert.Len(t, long, 1000)

	multi := Sanitize(strings.Repeat("é", 1200))
	assert.Equal(t, 1000, len([]rune(multi)))
}

func TestBinID(t *testing.T) {
	assert.True(t, BinID(uuid.NewString()))
	assert.True(t, BinID(strings.ToUpper(uuid.NewString())))

	for _, id := range []string{
		"",
		"not-a-uuid",
		"12345678-1234-1234-1234-123456789012",          // variant nibble out of range
		"{" + uuid.NewString() + "}",                    // braces
		"urn:uuid:" + uuid.NewString(),                  // urn form
		strings.ReplaceAll(uuid.NewString(), "-", ""),   // no hyphens
		"00000000-0000-0000-0000-000000000000",          // nil uuid
	} {
		assert.False(t, BinID(id), "expected %q to be rejected", id)
	}
}
