package normalize

import (
	"net/url"
	"strings"
)

// URL normalizes a relay url: lowercases, replaces http:// and https://
// schemes by ws:// and wss://, assumes wss:// when no scheme is given,
// and strips the trailing path slash. Returns the empty string for
// unparseable input.
func URL(u string) string {
	if u == "" {
		return ""
	}
	u = strings.TrimSpace(u)
	u = strings.ToLower(u)
	if !(strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "ws://") ||
		strings.HasPrefix(u, "wss://")) {
		// if the scheme isn't specified assume secure websocket, as it is
		// the most common
		u = "wss://" + u
	}
	p, e := url.Parse(u)
	if e != nil {
		return ""
	}
	switch p.Scheme {
	case "https":
		p.Scheme = "wss"
	case "http":
		p.Scheme = "ws"
	}
	p.Path = strings.TrimRight(p.Path, "/")
	return p.String()
}
