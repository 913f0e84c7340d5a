package util

import "strings"

// NormalizePhone strips the separators people type into phone numbers
// (spaces, parentheses, hyphens, periods) while keeping digits and a
// leading plus. Members are keyed by the normalized form.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether a normalized phone looks usable as a login
// identity: an optional leading plus followed by 10 to 13 digits.
func ValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 10 || len(digits) > 13 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
