package closedenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the CLOSED envelope: ["CLOSED", subscription id, message] - the
// relay terminated the subscription from its side.
type T struct {
	SubscriptionID string
	Reason         string
}

func (T) Label() string { return "CLOSED" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope: missing fields")
	}
	v.SubscriptionID = arr[1].Str
	v.Reason = arr[2].Str
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["CLOSED",`)
	w.String(v.SubscriptionID)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}
