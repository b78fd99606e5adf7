package normalizer

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxTextLength bounds descriptions, vendors, sources and company names.
const MaxTextLength = 150

// MaxCategoryLength bounds user supplied category names.
const MaxCategoryLength = 50

// CleanText trims, collapses internal whitespace runs to a single space and
// applies Unicode NFC so visually identical text compares equal.
func CleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Key is the case-folded form of already cleaned text, used wherever two
// values must compare equal regardless of letter case.
func Key(cleaned string) string {
	return strings.ToLower(cleaned)
}

// TooLong reports whether s exceeds max characters.
func TooLong(s string, max int) bool {
	return utf8.RuneCountInString(s) > max
}
