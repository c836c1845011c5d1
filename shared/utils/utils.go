package utils

import (
	"strings"
	"unicode"
)

// RecipientSearchFragment returns the token used to look a recipient up by
// family name: the last whitespace-delimited token of name, or the whole
// string when it contains no whitespace.
func RecipientSearchFragment(name string) string {
	if !strings.ContainsFunc(name, unicode.IsSpace) {
		return name
	}
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[len(fields)-1]
}

// EscapeLikePattern escapes the LIKE metacharacters in s so it can be used as
// a literal substring inside a pattern using '\' as the escape character.
func EscapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ValidateBankID reports whether id is usable as a bank identifier.
func ValidateBankID(id string) bool {
	return strings.TrimSpace(id) != "" && len(id) <= 100
}
