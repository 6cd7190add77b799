package zapi

import "strings"

// NormalizeDigits strips every non-digit character from a phone number.
func NormalizeDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EnsureCountryPrefix canonicalizes a number for the provider: digits only,
// with the Brazilian DDI prepended when the number looks like a local one.
func EnsureCountryPrefix(phone string) string {
	clean := NormalizeDigits(phone)
	if len(clean) >= 10 && len(clean) <= 11 {
		return "55" + clean
	}
	return clean
}

// ComparablePhone normalizes a number for equality checks between chat
// identities and stored contacts: digits only, leading DDI removed.
func ComparablePhone(phone string) string {
	clean := NormalizeDigits(phone)
	return strings.TrimPrefix(clean, "55")
}
