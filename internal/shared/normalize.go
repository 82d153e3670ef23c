package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLogin folds usernames and emails so uniqueness checks are
// insensitive to case and to compatibility-equivalent Unicode forms.
func NormalizeLogin(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}
