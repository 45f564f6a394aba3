// Package textnorm folds message text for keyword comparison.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// combiningMarks is the Combining Diacritical Marks block.
var combiningMarks = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
})

// Normalize decomposes s (NFD) and drops combining diacritical marks,
// so "café" becomes "cafe". Case is preserved.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// transform.Chain keeps state, so a fresh one is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(combiningMarks))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lower-cases s and strips its diacritics.
func Fold(s string) string {
	return Normalize(strings.ToLower(s))
}

// Tokens folds s and splits it on Unicode whitespace. Empty tokens are never returned.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}
