// Package privacy masks personal data before it reaches logs or
// unauthenticated callers.
package privacy

import (
	"net"
	"strings"
)

// MaskName keeps the first letter of each name part and redacts the rest, so
// an unauthenticated caller holding a letter can recognize themselves without
// the response disclosing the full identity. "Jane Doe" becomes "J*** D**".
func MaskName(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return ""
	}
	masked := make([]string, 0, len(parts))
	for _, p := range parts {
		r := []rune(p)
		if len(r) <= 1 {
			masked = append(masked, p)
			continue
		}
		masked = append(masked, string(r[0])+strings.Repeat("*", len(r)-1))
	}
	return strings.Join(masked, " ")
}

// RedactEmail hides the local part except its first character.
// "jane.doe@example.com" becomes "j***@example.com".
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// AnonymizeIP zeroes the host portion of an IP address for audit logging:
// the last octet for IPv4, the last 80 bits for IPv6.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return masked.String()
}
