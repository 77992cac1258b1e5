package event

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/tags"
	"github.com/seinelabs/seine/pkg/nostr/text"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/mailru/easyjson"
	"github.com/minio/sha256-simd"
)

// T is the event: the only object type in the protocol. Once accepted by
// the repository it must be treated as immutable.
type T struct {
	ID        string      `json:"id"`
	PubKey    string      `json:"pubkey"`
	CreatedAt timestamp.T `json:"created_at"`
	Kind      kind.T      `json:"kind"`
	Tags      tags.T      `json:"tags"`
	Content   string      `json:"content"`
	Sig       string      `json:"sig"`
}

// String returns the raw JSON of the event.
func (evt T) String() string {
	j, _ := easyjson.Marshal(evt)
	return string(j)
}

// Serialize outputs the canonical byte array that is hashed to produce
// the event ID, the JSON array form defined in NIP-01:
//
//	[0,"pubkey",created_at,kind,tags,"content"]
func (evt *T) Serialize() []byte {
	dst := make([]byte, 0, len(evt.Content)+128)
	dst = append(dst, []byte(fmt.Sprintf(
		"[0,\"%s\",%d,%d,", evt.PubKey, evt.CreatedAt, evt.Kind))...)
	dst = evt.Tags.MarshalTo(dst)
	dst = append(dst, ',')
	// content is user generated so it needs escaping
	dst = text.EscapeString(dst, evt.Content)
	dst = append(dst, ']')
	return dst
}

// GetID serializes the event and returns the hex encoded hash that is
// its identity.
func (evt *T) GetID() string {
	h := sha256.Sum256(evt.Serialize())
	return encodeHex(h[:])
}

// CheckID recomputes the id hash and compares it with the ID field.
func (evt *T) CheckID() bool {
	return evt.ID == evt.GetID()
}

// Validate checks the structural shape of an event: required fields
// present and hex fields well formed. It does not verify the signature
// or the id hash, which are the identity layer's job.
func (evt *T) Validate() error {
	if evt == nil {
		return fmt.Errorf("nil event")
	}
	if len(evt.ID) != 64 || !isHex(evt.ID) {
		return fmt.Errorf("event id '%s' is not 64 hex characters", evt.ID)
	}
	if len(evt.PubKey) != 64 || !isHex(evt.PubKey) {
		return fmt.Errorf("event pubkey '%s' is not 64 hex characters", evt.PubKey)
	}
	if len(evt.Sig) != 128 || !isHex(evt.Sig) {
		return fmt.Errorf("event sig is not 128 hex characters")
	}
	if evt.CreatedAt <= 0 {
		return fmt.Errorf("event created_at %d is not a positive timestamp", evt.CreatedAt)
	}
	if evt.Kind < 0 {
		return fmt.Errorf("event kind %d is negative", evt.Kind)
	}
	for i, t := range evt.Tags {
		if len(t) == 0 {
			return fmt.Errorf("tag %d is empty", i)
		}
	}
	return nil
}

// TagValue returns the value of the first tag with the given key, or "".
func (evt *T) TagValue(key string) string {
	if t := evt.Tags.GetFirst([]string{key, ""}); t != nil {
		return t.Value()
	}
	return ""
}

// Address returns the addressable identity "kind:pubkey:d-value" for
// addressable kinds, and "kind:pubkey:" for plain replaceable kinds.
// Regular events have no address and return "".
func (evt *T) Address() string {
	switch {
	case evt.Kind.IsReplaceable():
		return fmt.Sprintf("%d:%s:", evt.Kind, evt.PubKey)
	case evt.Kind.IsAddressable():
		return fmt.Sprintf("%d:%s:%s", evt.Kind, evt.PubKey, evt.TagValue("d"))
	}
	return ""
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

const hextable = "0123456789abcdef"

func encodeHex(b []byte) string {
	dst := make([]byte, len(b)*2)
	for i, v := range b {
		dst[i*2] = hextable[v>>4]
		dst[i*2+1] = hextable[v&0x0f]
	}
	return string(dst)
}
