package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername canonicalizes a username for lookups and storage.
// NFKC folds visually-equivalent Unicode forms so the same account name
// typed on different keyboards resolves to one credential record.
func NormalizeUsername(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}
