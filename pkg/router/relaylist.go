package router

import (
	"github.com/seinelabs/seine/pkg/normalize"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/tidwall/gjson"
)

// RelayList is a pubkey's advertised relays, split by direction.
type RelayList struct {
	Read  []string
	Write []string
}

// ParseRelayList extracts relay preferences from the two kinds that
// advertise them: the relay list metadata event (r tags, optionally
// marked read or write) and the legacy contact list (a JSON object in
// content mapping URL to read/write flags). Unmarked entries count for
// both directions. Other kinds yield an empty list.
func ParseRelayList(ev *event.T) RelayList {
	var rl RelayList
	if ev == nil {
		return rl
	}
	switch ev.Kind {
	case kind.RelayListMetadata:
		for _, t := range ev.Tags {
			if t.Key() != "r" || t.Value() == "" {
				continue
			}
			url := normalize.URL(t.Value())
			marker := ""
			if len(t) > 2 {
				marker = t[2]
			}
			switch marker {
			case "read":
				rl.Read = append(rl.Read, url)
			case "write":
				rl.Write = append(rl.Write, url)
			default:
				rl.Read = append(rl.Read, url)
				rl.Write = append(rl.Write, url)
			}
		}
	case kind.ContactList:
		parsed := gjson.Parse(ev.Content)
		if !parsed.IsObject() {
			return rl
		}
		parsed.ForEach(func(key, value gjson.Result) bool {
			url := normalize.URL(key.Str)
			if url == "" {
				return true
			}
			read := value.Get("read")
			write := value.Get("write")
			if !read.Exists() || read.Bool() {
				rl.Read = append(rl.Read, url)
			}
			if !write.Exists() || write.Bool() {
				rl.Write = append(rl.Write, url)
			}
			return true
		})
	}
	return rl
}

// Relays returns the list for a mode; inbox traffic goes to the same
// relays the pubkey reads from.
func (rl RelayList) Relays(mode Mode) []string {
	switch mode {
	case ModeWrite:
		return rl.Write
	default:
		return rl.Read
	}
}
