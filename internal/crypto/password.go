package crypto

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizePassword applies NFKC and trims surrounding whitespace so that
// visually identical passwords derive the same key.
func NormalizePassword(raw string) string {
	return strings.TrimSpace(norm.NFKC.String(raw))
}
