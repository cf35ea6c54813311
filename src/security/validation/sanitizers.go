package validation

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText removes all HTML tags and attributes from an input string
// before it is stored. Entities produced by the policy are decoded again so
// names like "A&B" are stored as typed.
func SanitizeText(s string) string {
	return html.UnescapeString(strictHTMLPolicy.Sanitize(s))
}

// SanitizeName sanitizes a name and then trims it, so markup removed next to
// a space does not leave that space at the edge of the stored name.
func SanitizeName(s string) string {
	return strings.TrimSpace(SanitizeText(s))
}

// StripUnprintable removes non-printable characters, allowing common whitespace
// like space, tab, newline, and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}

// CleanCell trims a spreadsheet cell and strips markup and control characters.
func CleanCell(s string) string {
	return strings.TrimSpace(StripUnprintable(SanitizeText(s)))
}
