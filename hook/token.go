package hook

import (
	"net/url"
	"strings"

	"github.com/bcorn-cely/Agent-Orchestration/id"
)

// trailingJunk holds the characters that ride along when a token is
// copy-pasted out of a URL, an email, or a JSON body.
const trailingJunk = "\"'`,.;:)]}>"

// NormalizeToken repairs a token that crossed a lossy boundary: it
// percent-decodes, trims whitespace, and strips stray quote/comma style
// characters from both ends. Token bytes themselves are never rewritten;
// TypeIDs contain no characters from the junk set.
func NormalizeToken(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.Contains(s, "%") {
		if decoded, err := url.QueryUnescape(s); err == nil {
			s = decoded
		}
	}

	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, trailingJunk)
	s = strings.TrimLeft(s, "\"'`([{<")

	return s
}

// ParseToken normalizes raw and parses it as a hook token. The returned
// ID's prefix is the hook kind.
func ParseToken(raw string) (id.HookID, error) {
	return id.Parse(NormalizeToken(raw))
}

// KindOf returns the hook kind encoded in a token, or "" if the token does
// not parse.
func KindOf(raw string) string {
	parsed, err := ParseToken(raw)
	if err != nil {
		return ""
	}

	return string(parsed.Prefix())
}
