// Package textnorm folds Vietnamese text into a canonical comparison form.
// Matching elsewhere runs against both the trimmed original and the folded
// form, so input with lost diacritics still lines up with accented triggers.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops combining marks, and recomposes.
// This turns "ấ" into "a" and "ợ" into "o".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold returns the folded form of s: lowercase, diacritics removed,
// đ mapped to d, runs of whitespace collapsed to single spaces, trimmed.
func Fold(s string) string {
	s = strings.ToLower(s)

	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		// transform only fails on malformed UTF-8; fall back to the
		// lowercased input so matching still sees something sane.
		folded = s
	}

	// đ/Đ carry no combining mark, NFD leaves them alone.
	folded = strings.Map(func(r rune) rune {
		if r == 'đ' {
			return 'd'
		}
		return r
	}, folded)

	return collapseSpaces(folded)
}

// Normalize returns the folded form and the whitespace-trimmed original.
// Both are fed to the classifier: the original preserves accents for exact
// phrase matches, the folded form tolerates diacritic loss.
func Normalize(raw string) (folded, trimmed string) {
	trimmed = collapseSpaces(raw)
	return Fold(trimmed), trimmed
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
