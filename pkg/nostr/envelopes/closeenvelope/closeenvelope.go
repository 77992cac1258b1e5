package closeenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the CLOSE envelope: ["CLOSE", subscription id].
type T string

func New(subID string) *T {
	v := T(subID)
	return &v
}

func (T) Label() string { return "CLOSE" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = T(arr[1].Str)
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["CLOSE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}
