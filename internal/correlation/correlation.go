// Package correlation generates the per-recipient correlation identifier and
// maps it to and from the threading headers carried by outbound mail.
package correlation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// HeaderName is the custom header echoed back by the provider on every
// event notification.
const HeaderName = "X-Campaign-Message-Id"

// messageIDPattern matches <campaign-ID@DOMAIN> anywhere in a header value.
var messageIDPattern = regexp.MustCompile(`<campaign-([0-9A-Za-z-]+)@([^<>\s]+)>`)

// NewID returns a random version 4 UUID. It is safe for headers and query
// strings without escaping and carries no recipient information.
func NewID() string {
	return uuid.NewString()
}

// Valid reports whether id has the shape produced by NewID.
func Valid(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// MessageID derives the Message-ID for a correlation id. The result is
// deterministic so it can be rebuilt without a lookup.
func MessageID(id, domain string) string {
	return fmt.Sprintf("<campaign-%s@%s>", id, domain)
}

// FromReferences returns the first correlation id found in a References or
// In-Reply-To value. Replies to a reply carry several message ids; the
// earliest campaign token wins.
func FromReferences(header string) (string, bool) {
	for _, m := range messageIDPattern.FindAllStringSubmatch(header, -1) {
		if Valid(m[1]) {
			return strings.ToLower(m[1]), true
		}
	}
	return "", false
}
