package event

import (
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/tag"
	"github.com/seinelabs/seine/pkg/nostr/tags"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// MarshalEasyJSON supports easyjson.Marshaler interface.
func (evt T) MarshalEasyJSON(w *jwriter.Writer) {
	w.RawString(`{"id":`)
	w.String(evt.ID)
	w.RawString(`,"pubkey":`)
	w.String(evt.PubKey)
	w.RawString(`,"created_at":`)
	w.Int64(int64(evt.CreatedAt))
	w.RawString(`,"kind":`)
	w.Int(int(evt.Kind))
	w.RawString(`,"tags":`)
	w.RawByte('[')
	for i, t := range evt.Tags {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('[')
		for j, s := range t {
			if j > 0 {
				w.RawByte(',')
			}
			w.String(s)
		}
		w.RawByte(']')
	}
	w.RawByte(']')
	w.RawString(`,"content":`)
	w.String(evt.Content)
	w.RawString(`,"sig":`)
	w.String(evt.Sig)
	w.RawByte('}')
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface.
func (evt *T) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			evt.ID = in.String()
		case "pubkey":
			evt.PubKey = in.String()
		case "created_at":
			evt.CreatedAt = timestamp.T(in.Int64())
		case "kind":
			evt.Kind = kind.T(in.Int())
		case "tags":
			in.Delim('[')
			evt.Tags = make(tags.T, 0, 4)
			for !in.IsDelim(']') {
				in.Delim('[')
				t := make(tag.T, 0, 4)
				for !in.IsDelim(']') {
					t = append(t, in.String())
					in.WantComma()
				}
				in.Delim(']')
				evt.Tags = append(evt.Tags, t)
				in.WantComma()
			}
			in.Delim(']')
		case "content":
			evt.Content = in.String()
		case "sig":
			evt.Sig = in.String()
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
func (evt T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	evt.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalJSON supports json.Unmarshaler interface.
func (evt *T) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	evt.UnmarshalEasyJSON(&r)
	return r.Error()
}
