// Package tracker remembers which relays delivered which event ids. The
// subscription engine uses it to deduplicate events arriving from
// several relays and to answer "who has seen this". Entries are bounded
// by an LRU so long-running sessions do not grow without limit.
package tracker

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/seinelabs/seine/pkg/normalize"
)

// DefaultMaxEntries bounds the number of tracked event ids.
const DefaultMaxEntries = 100_000

// T tracks event id to relay set. Safe for concurrent use.
type T struct {
	mx   sync.Mutex
	seen *lru.Cache[string, map[string]struct{}]
}

// New creates a tracker bounded to maxEntries ids; zero or negative
// means DefaultMaxEntries.
func New(maxEntries int) *T {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	// size is validated above, the constructor cannot fail
	cache, _ := lru.New[string, map[string]struct{}](maxEntries)
	return &T{seen: cache}
}

// Track records that a relay delivered an event id and reports whether
// this was the first delivery of that id from any relay.
func (t *T) Track(eventID, url string) (firstSeen bool) {
	url = normalize.URL(url)
	t.mx.Lock()
	defer t.mx.Unlock()
	relays, have := t.seen.Get(eventID)
	if !have {
		t.seen.Add(eventID, map[string]struct{}{url: {}})
		return true
	}
	relays[url] = struct{}{}
	return false
}

// Seen reports whether any relay has delivered the event id.
func (t *T) Seen(eventID string) bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.seen.Contains(eventID)
}

// Relays returns the set of relay URLs that delivered the event id.
func (t *T) Relays(eventID string) []string {
	t.mx.Lock()
	defer t.mx.Unlock()
	relays, have := t.seen.Get(eventID)
	if !have {
		return nil
	}
	urls := make([]string, 0, len(relays))
	for url := range relays {
		urls = append(urls, url)
	}
	return urls
}

// Len returns the number of tracked event ids.
func (t *T) Len() int {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.seen.Len()
}
