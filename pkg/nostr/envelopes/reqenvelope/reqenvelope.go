package reqenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the REQ envelope: ["REQ", subscription id, filter, filter, ...].
type T struct {
	SubscriptionID string
	Filters        filters.T
}

func (T) Label() string { return "REQ" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(filters.T, len(arr)-2)
	for i, item := range arr[2:] {
		var f filter.T
		if err := f.UnmarshalJSON([]byte(item.Raw)); err != nil {
			return fmt.Errorf("%w -- on filter %d", err, i)
		}
		v.Filters[i] = f
	}
	return nil
}

func (v T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	w.RawString(`["REQ",`)
	w.String(v.SubscriptionID)
	for _, f := range v.Filters {
		w.RawByte(',')
		f.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	return w.BuildBytes()
}
