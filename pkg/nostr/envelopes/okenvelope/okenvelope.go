package okenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the OK envelope: ["OK", event id, true|false, message] - the
// relay's acknowledgement of an EVENT or AUTH submission.
type T struct {
	EventID string
	OK      bool
	Reason  string
}

func (T) Label() string { return "OK" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 4 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Raw == "true"
	v.Reason = arr[3].Str
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["OK",`)
	w.String(v.EventID)
	w.RawByte(',')
	w.Bool(v.OK)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}
