// Package index implements the per-tenant lexical retrieval index over
// category and subcategory names.
package index

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics, so "Educação" and "EDUCACAO"
// normalize to the same string.
func Fold(s string) string {
	lower := strings.ToLower(s)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, lower)
	if err != nil {
		return lower
	}
	return folded
}

// Tokenize folds s and splits it on non-letter boundaries. Digits and
// punctuation never become tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
