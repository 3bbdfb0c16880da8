package fields

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Tokens normalizes text into lower-case word tokens.
//
// camelCase boundaries are split ("firstName" -> "first", "name"), every rune that is
// not a letter or digit acts as a separator, and empty tokens are dropped. The same
// rules apply to labels and to shortcut keywords, so "first_name", "First Name:" and
// "firstName" all produce [first name].
func Tokens(text string) []string {
	var b strings.Builder
	b.Grow(len(text) + 8)

	var prev rune
	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				b.WriteRune(' ')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(' ')
		}
		prev = r
	}

	return strings.Fields(b.String())
}

// NormalizeLabel returns the space-joined tokens of text.
func NormalizeLabel(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Fingerprint derives a stable cache key from the field's identifying attributes.
// An empty string is returned when none of the attributes carry any text.
func Fingerprint(d FieldDescriptor) string {
	parts := []string{
		NormalizeLabel(d.Name),
		NormalizeLabel(d.ID),
		NormalizeLabel(d.Label),
		NormalizeLabel(d.Placeholder),
	}

	if strings.Join(parts, "") == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "f_" + hex.EncodeToString(sum[:16])
}
