package patients

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizePhone strips everything but digits and canonicalizes to E.164.
// Ten-digit national numbers get a +1 prefix. Returns "" for values that
// cannot be a phone number.
func NormalizePhone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits
	default:
		return ""
	}
}

var nameSpaceRe = regexp.MustCompile(`\s+`)

// NormalizeName lowercases, collapses whitespace, and drops punctuation so
// "Smith,  John" and "john smith" compare equal. Word order is preserved and
// commas are treated as separators.
func NormalizeName(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, ",", " ")
	value = strings.ReplaceAll(value, ".", " ")
	value = strings.ReplaceAll(value, "-", " ")
	value = strings.ReplaceAll(value, "'", "")
	return nameSpaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
}
