package eoseenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the EOSE envelope: ["EOSE", subscription id] - the relay signal
// that all stored events matching the subscription have been sent and
// whatever follows is live.
type T string

func (T) Label() string { return "EOSE" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = T(arr[1].Str)
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["EOSE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}
