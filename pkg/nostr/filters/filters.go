package filters

import (
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/mailru/easyjson/jwriter"
)

// T is a disjunction of filters: an event matches if any one matches.
type T []filter.T

func (ff T) String() string {
	w := jwriter.Writer{}
	w.RawByte('[')
	for i, f := range ff {
		if i > 0 {
			w.RawByte(',')
		}
		f.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	b, _ := w.BuildBytes()
	return string(b)
}

// Match returns true if any filter in the list matches the event.
func (ff T) Match(evt *event.T) bool {
	for _, f := range ff {
		if f.Matches(evt) {
			return true
		}
	}
	return false
}

// Clone deep copies the filter list.
func (ff T) Clone() T {
	c := make(T, len(ff))
	for i := range ff {
		c[i] = ff[i].Clone()
	}
	return c
}
