package tag

import (
	"strings"

	"github.com/seinelabs/seine/pkg/normalize"
	"github.com/seinelabs/seine/pkg/nostr/text"
)

// The tag position meanings so they are clear when reading.
const (
	Key = iota
	Value
	Relay
)

// Marker strings for e (reference) tags.
const (
	MarkerReply   = "reply"
	MarkerRoot    = "root"
	MarkerMention = "mention"
)

// T is a list of strings with a literal ordering.
//
// Not a set, there can be repeating elements.
type T []string

// StartsWith checks a tag has the same initial set of elements.
//
// The last element is treated specially in that it is considered to
// match if the candidate has the same initial substring as its
// corresponding element.
func (t T) StartsWith(prefix []string) bool {
	prefixLen := len(prefix)
	if prefixLen > len(t) {
		return false
	}
	// check initial elements for equality
	for i := 0; i < prefixLen-1; i++ {
		if prefix[i] != t[i] {
			return false
		}
	}
	// check last element just for a prefix
	return strings.HasPrefix(t[prefixLen-1], prefix[prefixLen-1])
}

// Key returns the first element of the tag.
func (t T) Key() string {
	if len(t) > Key {
		return t[Key]
	}
	return ""
}

// Value returns the second element of the tag.
func (t T) Value() string {
	if len(t) > Value {
		return t[Value]
	}
	return ""
}

// RelayHint returns the third element of an e or p tag, normalized as a
// relay URL.
func (t T) RelayHint() string {
	if (t.Key() == "e" || t.Key() == "p" || t.Key() == "a") && len(t) > Relay {
		return normalize.URL(t[Relay])
	}
	return ""
}

// MarshalTo appends the JSON encoded form of the tag to dst. Used for the
// canonical serialization so string escaping is as in RFC8259.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, s := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = text.EscapeString(dst, s)
	}
	dst = append(dst, ']')
	return dst
}

func (t T) String() string {
	return string(t.MarshalTo(nil))
}

// Clone makes a new tag with the same members.
func (t T) Clone() T {
	c := make(T, len(t))
	copy(c, t)
	return c
}
