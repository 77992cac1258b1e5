package tags

import (
	"github.com/seinelabs/seine/pkg/nostr/tag"
)

// T is a list of tag.T - which are lists of string elements with
// ordering and no uniqueness constraint (not a set).
type T []tag.T

// GetFirst gets the first tag that matches the prefix, see
// [tag.T.StartsWith].
func (t T) GetFirst(tagPrefix []string) *tag.T {
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			return &v
		}
	}
	return nil
}

// GetLast gets the last tag that matches the prefix.
func (t T) GetLast(tagPrefix []string) *tag.T {
	for i := len(t) - 1; i >= 0; i-- {
		v := t[i]
		if v.StartsWith(tagPrefix) {
			return &v
		}
	}
	return nil
}

// GetAll gets all the tags that match the prefix.
func (t T) GetAll(tagPrefix ...string) T {
	result := make(T, 0, len(t))
	for _, v := range t {
		if v.StartsWith(tagPrefix) {
			result = append(result, v)
		}
	}
	return result
}

// FilterOut removes all tags that match the prefix.
func (t T) FilterOut(tagPrefix []string) T {
	filtered := make(T, 0, len(t))
	for _, v := range t {
		if !v.StartsWith(tagPrefix) {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// AppendUnique appends a tag if it doesn't exist yet, otherwise does
// nothing. The uniqueness comparison is done based only on the first 2
// elements of the tag.
func (t T) AppendUnique(tg tag.T) T {
	n := len(tg)
	if n > 2 {
		n = 2
	}
	if t.GetFirst(tg[:n]) == nil {
		return append(t, tg)
	}
	return t
}

// ContainsAny returns true if any tag with the given key (without the #
// prefix) has a value in the given list.
func (t T) ContainsAny(tagName string, values []string) bool {
	for _, v := range t {
		if len(v) < 2 {
			continue
		}
		if v.Key() != tagName {
			continue
		}
		for _, candidate := range values {
			if v.Value() == candidate {
				return true
			}
		}
	}
	return false
}

// MarshalTo appends the JSON encoded form of the tag list to dst.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.MarshalTo(dst)
	}
	dst = append(dst, ']')
	return dst
}

func (t T) String() string {
	return string(t.MarshalTo(nil))
}

// Clone makes a deep copy of the tag list.
func (t T) Clone() T {
	c := make(T, len(t))
	for i := range t {
		c[i] = t[i].Clone()
	}
	return c
}
