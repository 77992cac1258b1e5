package filter

import (
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// T is one conjunction of constraints: an event matches iff every
// constraint that is present matches. A REQ carries a list of these,
// matched as a disjunction.
type T struct {
	IDs     []string
	Kinds   []kind.T
	Authors []string
	Tags    TagMap
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   int
	Search  string
}

// TagMap is keyed by the tag name without the # prefix.
type TagMap map[string][]string

func (f T) String() string {
	j, _ := f.MarshalJSON()
	return string(j)
}

// Matches checks every present constraint against the event.
func (f T) Matches(evt *event.T) bool {
	if evt == nil {
		return false
	}
	if f.IDs != nil && !slices.Contains(f.IDs, evt.ID) {
		return false
	}
	if f.Kinds != nil && !slices.Contains(f.Kinds, evt.Kind) {
		return false
	}
	if f.Authors != nil && !slices.Contains(f.Authors, evt.PubKey) {
		return false
	}
	for name, v := range f.Tags {
		if v != nil && !evt.Tags.ContainsAny(name, v) {
			return false
		}
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	return true
}

// CardinalityBound returns the maximum number of events that can ever
// match the filter, or -1 when it is unbounded. An ids filter can match
// at most one event per id; this is what lets the subscription engine
// skip the network for fully cached queries.
func (f T) CardinalityBound() int {
	if len(f.IDs) > 0 {
		return len(f.IDs)
	}
	return -1
}

// Clone makes a deep copy of the filter.
func (f T) Clone() T {
	clone := T{
		IDs:     slices.Clone(f.IDs),
		Kinds:   slices.Clone(f.Kinds),
		Authors: slices.Clone(f.Authors),
		Limit:   f.Limit,
		Search:  f.Search,
	}
	if f.Tags != nil {
		clone.Tags = make(TagMap, len(f.Tags))
		for k, v := range f.Tags {
			clone.Tags[k] = slices.Clone(v)
		}
	}
	if f.Since != nil {
		since := *f.Since
		clone.Since = &since
	}
	if f.Until != nil {
		until := *f.Until
		clone.Until = &until
	}
	return clone
}

// Equal compares two filters for semantic equality; element order inside
// the sets is ignored.
func Equal(a, b T) bool {
	if !similar(a.Kinds, b.Kinds) ||
		!similar(a.IDs, b.IDs) ||
		!similar(a.Authors, b.Authors) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for name, av := range a.Tags {
		bv, ok := b.Tags[name]
		if !ok || !similar(av, bv) {
			return false
		}
	}
	if !pointerEqual(a.Since, b.Since) || !pointerEqual(a.Until, b.Until) {
		return false
	}
	return a.Limit == b.Limit && a.Search == b.Search
}

func similar[E constraints.Ordered](as, bs []E) bool {
	if len(as) != len(bs) {
		return false
	}
	for _, a := range as {
		if !slices.Contains(bs, a) {
			return false
		}
	}
	return true
}

func pointerEqual[E comparable](a, b *E) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MarshalEasyJSON supports easyjson.Marshaler interface. Tag constraints
// are written with their # prefixed keys alongside the static fields.
func (f T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawByte('{')
	first := true
	comma := func() {
		if !first {
			w.RawByte(',')
		}
		first = false
	}
	if f.IDs != nil {
		comma()
		w.RawString(`"ids":`)
		writeStrings(w, f.IDs)
	}
	if f.Kinds != nil {
		comma()
		w.RawString(`"kinds":[`)
		for i, k := range f.Kinds {
			if i > 0 {
				w.RawByte(',')
			}
			w.Int(int(k))
		}
		w.RawByte(']')
	}
	if f.Authors != nil {
		comma()
		w.RawString(`"authors":`)
		writeStrings(w, f.Authors)
	}
	for name, v := range f.Tags {
		comma()
		w.String("#" + name)
		w.RawByte(':')
		writeStrings(w, v)
	}
	if f.Since != nil {
		comma()
		w.RawString(`"since":`)
		w.Int64(int64(*f.Since))
	}
	if f.Until != nil {
		comma()
		w.RawString(`"until":`)
		w.Int64(int64(*f.Until))
	}
	if f.Limit > 0 {
		comma()
		w.RawString(`"limit":`)
		w.Int(f.Limit)
	}
	if f.Search != "" {
		comma()
		w.RawString(`"search":`)
		w.String(f.Search)
	}
	w.RawByte('}')
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (f *T) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch {
		case key == "ids":
			f.IDs = readStrings(in)
		case key == "kinds":
			in.Delim('[')
			f.Kinds = make([]kind.T, 0, 4)
			for !in.IsDelim(']') {
				f.Kinds = append(f.Kinds, kind.T(in.Int()))
				in.WantComma()
			}
			in.Delim(']')
		case key == "authors":
			f.Authors = readStrings(in)
		case key == "since":
			since := timestamp.T(in.Int64())
			f.Since = &since
		case key == "until":
			until := timestamp.T(in.Int64())
			f.Until = &until
		case key == "limit":
			f.Limit = in.Int()
		case key == "search":
			f.Search = in.String()
		case len(key) > 1 && key[0] == '#':
			if f.Tags == nil {
				f.Tags = make(TagMap)
			}
			f.Tags[key[1:]] = readStrings(in)
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// MarshalJSON supports json.Marshaler interface.
func (f T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	f.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON supports json.Unmarshaler interface.
func (f *T) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	f.UnmarshalEasyJSON(&r)
	return r.Error()
}

func writeStrings(w *jwriter.Writer, ss []string) {
	w.RawByte('[')
	for i, s := range ss {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(s)
	}
	w.RawByte(']')
}

func readStrings(in *jlexer.Lexer) []string {
	in.Delim('[')
	ss := make([]string, 0, 8)
	for !in.IsDelim(']') {
		ss = append(ss, in.String())
		in.WantComma()
	}
	in.Delim(']')
	return ss
}
