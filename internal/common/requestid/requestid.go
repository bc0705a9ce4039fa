// Package requestid derives correlation IDs for render requests.
package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// Header carries a caller supplied correlation ID and is echoed on every response
const Header = "X-Request-ID"

const (
	// MaxLength matches the length of a canonical UUID
	MaxLength = 36
	// prefixLength random hex characters keep client supplied IDs unique
	prefixLength = 8
)

// Resolve returns a request ID derived from clientID.
// The client value is reduced to [a-zA-Z0-9-], prefixed with random hex and
// capped at MaxLength. An empty result falls back to a fresh UUID.
func Resolve(clientID string) string {
	sanitized := Sanitize(clientID)
	if sanitized == "" {
		return uuid.NewString()
	}

	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")[:prefixLength]
	if limit := MaxLength - prefixLength - 1; len(sanitized) > limit {
		sanitized = strings.TrimRight(sanitized[:limit], "-")
	}
	return prefix + "-" + sanitized
}

// Sanitize keeps letters, digits and single hyphens. Spaces become hyphens.
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))

	lastHyphen := true // drops leading hyphens
	for _, r := range id {
		switch {
		case r == ' ' || r == '-':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		}
	}
	return strings.TrimRight(b.String(), "-")
}
