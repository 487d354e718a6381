package logger

import (
	"net/mail"
	"strings"
)

// RedactEmail masks the local part of an address, keeping the first two
// characters and the domain so the fund stays identifiable in logs:
// "partner@fund.vc" → "pa***@fund.vc". Local parts of two characters or
// fewer are masked entirely. Header forms such as "Jane <jane@fund.vc>" lose
// the display name.
func RedactEmail(email string) string {
	if a, err := mail.ParseAddress(email); err == nil {
		email = a.Address
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	name, host := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + host
	}
	return "***@" + host
}
