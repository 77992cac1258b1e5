// Package sentinel sniffs the label of an incoming wire message and
// decodes it into the matching envelope type.
package sentinel

import (
	"bytes"

	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/authenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/closedenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/closeenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/countenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eoseenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eventenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/noticeenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/okenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/reqenvelope"
)

// ParseMessage decodes a wire frame into its envelope. Returns nil for
// anything malformed: a frame that doesn't decode is dropped, never an
// error that could take down a connection.
func ParseMessage(message []byte) envelopes.E {
	firstComma := bytes.Index(message, []byte{','})
	if firstComma == -1 {
		return nil
	}
	label := message[0:firstComma]

	var v envelopes.E
	switch {
	case bytes.Contains(label, []byte("EVENT")):
		v = &eventenvelope.T{}
	case bytes.Contains(label, []byte("REQ")):
		v = &reqenvelope.T{}
	case bytes.Contains(label, []byte("COUNT")):
		v = &countenvelope.T{}
	case bytes.Contains(label, []byte("NOTICE")):
		x := noticeenvelope.T("")
		v = &x
	case bytes.Contains(label, []byte("EOSE")):
		x := eoseenvelope.T("")
		v = &x
	case bytes.Contains(label, []byte("OK")):
		v = &okenvelope.T{}
	case bytes.Contains(label, []byte("AUTH")):
		v = &authenvelope.T{}
	case bytes.Contains(label, []byte("CLOSED")):
		v = &closedenvelope.T{}
	case bytes.Contains(label, []byte("CLOSE")):
		x := closeenvelope.T("")
		v = &x
	default:
		return nil
	}

	if err := v.UnmarshalJSON(message); err != nil {
		return nil
	}
	return v
}
