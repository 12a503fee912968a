// Package redact masks PII and payment data in free text before it leaves
// the gateway. All functions are pure and safe for concurrent use.
package redact

import (
	"regexp"
	"strings"
)

// Stats counts redactions applied by Text. Values are additive across calls.
type Stats struct {
	Matches int
}

// Add accumulates another set of stats into s.
func (s *Stats) Add(other Stats) {
	s.Matches += other.Matches
}

var (
	// The leading group stands in for a look-behind: masked local parts
	// contain '*', which must not re-match as a shorter address.
	emailRE = regexp.MustCompile(`(?i)(^|[^A-Z0-9._%+*-])([A-Z0-9._%+-]+)@([A-Z0-9.-]+\.[A-Z]{2,})\b`)

	cardRE = regexp.MustCompile(`\b(?:\d[ -]*?){12,19}\b`)

	// Leading group rejects digits so a match is never the tail of a
	// longer digit run (no look-behind in RE2).
	phoneRE = regexp.MustCompile(`(?m)(^|[^\d])(\+?\d[\d \-]{6,}\d)`)
)

const maskChar = '*'

// Text applies the three detection passes in fixed order: email addresses,
// Luhn-valid card numbers, then phone-like digit runs. It returns the
// redacted string and the number of redactions applied. Input with no
// matches is returned unchanged.
func Text(input string) (string, Stats) {
	var stats Stats

	out := emailRE.ReplaceAllStringFunc(input, func(m string) string {
		parts := emailRE.FindStringSubmatch(m)
		stats.Matches++
		return parts[1] + maskMid(parts[2], 1) + "@" + parts[3]
	})

	out = cardRE.ReplaceAllStringFunc(out, func(m string) string {
		digits := digitsOnly(m)
		if !LuhnValid(digits) {
			return m
		}
		stats.Matches++
		return "CC_MASKED_LAST4_" + digits[len(digits)-4:]
	})

	out = phoneRE.ReplaceAllStringFunc(out, func(m string) string {
		parts := phoneRE.FindStringSubmatch(m)
		stats.Matches++
		return parts[1] + maskDigits(parts[2])
	})

	return out, stats
}

// maskMid keeps the first and last `keep` bytes of s and masks the rest.
// Strings no longer than keep are fully masked.
func maskMid(s string, keep int) string {
	if len(s) <= keep {
		return strings.Repeat(string(maskChar), len(s))
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if i < keep || i >= len(s)-keep {
			b.WriteByte(s[i])
		} else {
			b.WriteByte(maskChar)
		}
	}
	return b.String()
}

// maskDigits masks every digit after the second one, leaving separators
// and the leading digits intact.
func maskDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	seen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			seen++
			if seen > 2 {
				b.WriteByte('x')
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// LuhnValid reports whether digits is a 12-19 digit string passing the
// Luhn checksum.
func LuhnValid(digits string) bool {
	if len(digits) < 12 || len(digits) > 19 {
		return false
	}
	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}
