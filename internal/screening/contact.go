package screening

import "strings"

// MaxMessageLength caps sanitized inbound text.
const MaxMessageLength = 5000

// NormalizeContact reduces a raw messaging identifier (JID-style, e.g.
// "5511999999999@s.whatsapp.net") to a canonical phone string. It returns
// "" when the identifier does not contain a valid phone: 10 to 15 digits
// after stripping everything else, and not all zeros.
func NormalizeContact(contactKey string) string {
	if contactKey == "" {
		return ""
	}
	// Drop the server part of a JID before digit extraction.
	if at := strings.IndexByte(contactKey, '@'); at >= 0 {
		contactKey = contactKey[:at]
	}

	var b strings.Builder
	allZero := true
	for _, r := range contactKey {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if r != '0' {
				allZero = false
			}
		}
	}

	phone := b.String()
	if len(phone) < 10 || len(phone) > 15 || allZero {
		return ""
	}
	return phone
}

// SanitizeText strips control characters (keeping newline and tab) and
// truncates to MaxMessageLength.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 32 || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) > MaxMessageLength {
		runes := []rune(clean)
		if len(runes) > MaxMessageLength {
			clean = string(runes[:MaxMessageLength])
		}
	}
	return clean
}
