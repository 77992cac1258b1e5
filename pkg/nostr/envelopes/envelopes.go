// Package envelopes defines the interface of the label-tagged JSON
// arrays that frame every message in the wire protocol.
package envelopes

// E is implemented by each wire message type. The wire form is a JSON
// array whose first element is the label.
type E interface {
	// Label returns the first element of the envelope array.
	Label() string
	// String returns the JSON form.
	String() string
	MarshalJSON() ([]byte, error)
	UnmarshalJSON([]byte) error
}
