package authenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the AUTH envelope. Relay to client it carries a challenge string;
// client to relay it carries the signed kind 22242 response event.
type T struct {
	Challenge *string
	Event     event.T
}

func (T) Label() string { return "AUTH" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode AUTH envelope: missing fields")
	}
	if arr[1].IsObject() {
		return easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event)
	}
	v.Challenge = &arr[1].Str
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["AUTH",`)
	if v.Challenge != nil {
		w.String(*v.Challenge)
	} else {
		v.Event.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	return w.BuildBytes()
}
