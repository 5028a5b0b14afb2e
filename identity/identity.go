// ABOUTME: Canonical identity keys for leads
// ABOUTME: Normalizes phones and emails and derives the deterministic external id
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// anonymousPart stands in for an identity with neither phone nor email, so
// the id stays reproducible.
const anonymousPart = "anonymous"

// NormalizePhone reduces a raw phone to "+<digits>", mapping Russian numbers
// written as 8XXXXXXXXXX or 9XXXXXXXXX onto the 7 country code. It returns ""
// when the input has no digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case len(digits) == 11 && digits[0] == '8':
		digits = "7" + digits[1:]
	case len(digits) == 10 && digits[0] == '9':
		digits = "7" + digits
	}

	return "+" + digits
}

// NormalizeEmail lowercases and trims an email for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MakeExternalID returns the 16 hex character dedup key for a phone/email
// pair. The phone is normalized when it has digits and used verbatim
// otherwise.
func MakeExternalID(phone, email string) string {
	var parts []string

	if strings.TrimSpace(phone) != "" {
		if normalized := NormalizePhone(phone); normalized != "" {
			parts = append(parts, normalized)
		} else {
			parts = append(parts, phone)
		}
	}
	if e := NormalizeEmail(email); e != "" {
		parts = append(parts, e)
	}

	if len(parts) == 0 {
		parts = append(parts, anonymousPart)
	}

	// md5 keeps ids compatible with the ones already written into sheets.
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
