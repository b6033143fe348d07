package datanorm

import (
	"strings"

	"github.com/olivestudio/leadrecon/internal/table"
)

// keyLength is how many trailing characters of a phone form the join key.
const keyLength = 6

// KeyOf returns the trailing six characters of s, or all of s when shorter.
// No format validation happens here; the key is only used for grouping.
func KeyOf(s string) string {
	r := []rune(s)
	if len(r) <= keyLength {
		return s
	}
	return string(r[len(r)-keyLength:])
}

// NormalizeKey derives the join key of any phone-like cell.
func NormalizeKey(v table.Value) string {
	return KeyOf(v.String())
}

// SupplementalPhone restores the leading zero the supplement file drops from
// mobile numbers.
func SupplementalPhone(s string) string {
	if strings.HasPrefix(s, "5") {
		return "0" + s
	}
	return s
}
