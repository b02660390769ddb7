package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// cases.Caser carries state, so NormalizePlate builds one per call.
var plateLang = language.Und

// NormalizePlate upper-cases and trims a plate number the way the backend
// stores it, so filters and identities compare equal.
func NormalizePlate(plate string) string {
	return cases.Upper(plateLang).String(strings.TrimSpace(plate))
}
