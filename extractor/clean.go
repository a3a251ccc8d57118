package extractor

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CleanText trims s, collapses every whitespace run to a single space and
// normalises it to NFC so composed and decomposed accents compare equal.
func CleanText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
