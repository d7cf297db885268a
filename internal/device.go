package internal

import (
	"strings"
	"unicode"

	"github.com/mssola/useragent"
)

const maxDeviceDescription = 120

// DescribeUserAgent renders a short "Browser version on OS" label stored
// next to refresh records so users and operators can tell sessions apart.
func DescribeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	ua := useragent.New(raw)

	var b strings.Builder
	switch {
	case ua.Bot():
		b.WriteString("bot")
	default:
		name, version := ua.Browser()
		if name == "" {
			name = "unknown browser"
		}
		b.WriteString(name)
		if version != "" {
			b.WriteByte(' ')
			b.WriteString(version)
		}
	}

	if os := ua.OS(); os != "" {
		b.WriteString(" on ")
		b.WriteString(os)
	}
	if ua.Mobile() {
		b.WriteString(" (mobile)")
	}

	out := b.String()
	if len(out) > maxDeviceDescription {
		out = out[:maxDeviceDescription]
	}
	return out
}

// NormalizeIdentifier canonicalizes an email or phone identifier. Emails are
// lowercased; phone numbers keep digits and a leading '+'.
func NormalizeIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}
	if strings.Contains(identifier, "@") {
		return strings.ToLower(identifier)
	}

	var b strings.Builder
	b.Grow(len(identifier))
	for i, r := range identifier {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			// Not a phone number after all; keep it verbatim but case-folded.
			return strings.ToLower(identifier)
		}
	}
	return b.String()
}

// LooksLikeEmail reports whether a normalized identifier has the local@domain
// shape. Deliverability is the notifier's problem.
func LooksLikeEmail(identifier string) bool {
	at := strings.LastIndexByte(identifier, '@')
	return at > 0 && at < len(identifier)-1 && !strings.ContainsAny(identifier, " \t\r\n")
}
