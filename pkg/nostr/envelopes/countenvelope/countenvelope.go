package countenvelope

import (
	"fmt"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var _ envelopes.E = (*T)(nil)

// T is the COUNT envelope. A request carries filters, a response
// carries the count. Decoding distinguishes by the shape of the second
// payload element.
type T struct {
	SubscriptionID string
	Filters        filters.T
	Count          *int64
}

func (T) Label() string { return "COUNT" }

func (v T) String() string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func (v *T) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode COUNT envelope: missing fields")
	}
	v.SubscriptionID = arr[1].Str
	if c := arr[2].Get("count"); c.Exists() {
		count := c.Int()
		v.Count = &count
		return nil
	}
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
	w.RawString(`["COUNT",`)
	w.String(v.SubscriptionID)
	if v.Count != nil {
		w.RawString(`,{"count":`)
		w.Int64(*v.Count)
		w.RawByte('}')
	} else {
		for _, f := range v.Filters {
			w.RawByte(',')
			f.MarshalEasyJSON(&w)
		}
	}
	w.RawByte(']')
	return w.BuildBytes()
}
