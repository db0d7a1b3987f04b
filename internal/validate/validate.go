// Package validate holds input checks shared by the API and the core.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTokenNameLen = 100
	maxInputLen     = 1000
)

var (
	tokenNameRe = regexp.MustCompile(`^[a-zA-Z0-9\s\-_]+$`)
	binIDRe     = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
)

// TokenName reports whether name is 1-100 characters of letters, digits,
// whitespace, hyphens and underscores.
func TokenName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < 1 || n > maxTokenNameLen {
		return false
	}
	return tokenNameRe.MatchString(name)
}

// Sanitize trims surrounding whitespace and truncates to 1000 characters.
// It does not make input safe for HTML or any other output context.
func Sanitize(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxInputLen {
		return s
	}
	return string([]rune(s)[:maxInputLen])
}

// BinID reports whether id is a canonical RFC 4122 UUID string.
func BinID(id string) bool {
	return binIDRe.MatchString(id)
}
