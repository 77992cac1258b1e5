// Package router computes which relays an operation should talk to. It
// never performs I/O: callers plug in relay knowledge (per-pubkey relay
// lists, fallbacks, quality scores) through callbacks and the router
// reduces weighted contributions to an ordered URL list.
package router

import (
	"sort"

	"github.com/seinelabs/seine/pkg/normalize"
	"github.com/seinelabs/seine/pkg/nostr/event"
)

// Mode selects which of a pubkey's relays a scenario wants.
type Mode int

const (
	ModeRead  Mode = iota // where the pubkey's own content is found
	ModeWrite             // where the pubkey publishes
	ModeInbox             // where mentions and DMs for the pubkey land
)

// FallbackPolicy decides how many fallback relays to append given how
// many acceptable relays a scenario produced and the configured limit.
type FallbackPolicy func(count, limit int) int

// FallbackPolicyMinimal adds a single fallback relay only when the
// scenario produced nothing at all.
func FallbackPolicyMinimal(count, limit int) int {
	if count > 0 {
		return 0
	}
	return 1
}

// FallbackPolicyMaximal tops the selection up to the limit.
func FallbackPolicyMaximal(count, limit int) int {
	if more := limit - count; more > 0 {
		return more
	}
	return 0
}

const (
	// DefaultLimit is the relay count when no GetLimit callback is given.
	DefaultLimit = 3
	// DefaultQualityThreshold separates relays that count as acceptable
	// from those that only participate for lack of better options.
	DefaultQualityThreshold = 0.5
)

// Callbacks supply the relay knowledge the router selects from. Nil
// members get safe defaults: no known relays, no fallbacks, quality 1,
// DefaultLimit, FallbackPolicyMaximal.
type Callbacks struct {
	GetPubkeyRelays   func(pubkey string, mode Mode) []string
	GetFallbackRelays func() []string
	GetRelayQuality   func(url string) float64
	GetLimit          func() int
	FallbackPolicy    FallbackPolicy
}

// R builds relay selection scenarios.
type R struct {
	cb Callbacks
}

// New creates a router over the given callbacks.
func New(cb Callbacks) *R {
	if cb.GetPubkeyRelays == nil {
		cb.GetPubkeyRelays = func(string, Mode) []string { return nil }
	}
	if cb.GetFallbackRelays == nil {
		cb.GetFallbackRelays = func() []string { return nil }
	}
	if cb.GetRelayQuality == nil {
		cb.GetRelayQuality = func(string) float64 { return 1 }
	}
	if cb.GetLimit == nil {
		cb.GetLimit = func() int { return DefaultLimit }
	}
	if cb.FallbackPolicy == nil {
		cb.FallbackPolicy = FallbackPolicyMaximal
	}
	return &R{cb: cb}
}

// Scenario is a sequence of weighted relay-set contributions reduced to
// a final ordered URL list by GetURLs.
type Scenario struct {
	r             *R
	contributions []contribution
	policy        FallbackPolicy
	limit         int
}

type contribution struct {
	url    string
	weight float64
}

// Scenario starts an empty selection.
func (r *R) Scenario() *Scenario {
	return &Scenario{r: r, limit: -1}
}

// Add contributes a relay set with a weight. Unknown or empty URLs are
// dropped; the rest are normalized.
func (s *Scenario) Add(urls []string, weight float64) *Scenario {
	for _, url := range urls {
		url = normalize.URL(url)
		if url == "" {
			continue
		}
		s.contributions = append(s.contributions, contribution{
			url:    url,
			weight: weight,
		})
	}
	return s
}

// WithPolicy overrides the router's fallback policy for this scenario.
func (s *Scenario) WithPolicy(p FallbackPolicy) *Scenario {
	s.policy = p
	return s
}

// WithLimit overrides the router's limit for this scenario.
func (s *Scenario) WithLimit(limit int) *Scenario {
	s.limit = limit
	return s
}

// GetURLs reduces the contributions: duplicate URLs merge by summing
// weight, the result is ordered by weight then quality, truncated to the
// limit, and topped up with fallback relays according to the fallback
// policy. The policy sees only the count of relays at or above the
// quality threshold, so a selection of poorly scored relays still pulls
// in fallbacks.
func (s *Scenario) GetURLs() []string {
	limit := s.limit
	if limit < 0 {
		limit = s.r.cb.GetLimit()
	}
	if limit <= 0 {
		return nil
	}

	weights := make(map[string]float64)
	var order []string
	for _, c := range s.contributions {
		if _, have := weights[c.url]; !have {
			order = append(order, c.url)
		}
		weights[c.url] += c.weight
	}

	quality := make(map[string]float64, len(order))
	for _, url := range order {
		quality[url] = s.r.cb.GetRelayQuality(url)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if weights[a] != weights[b] {
			return weights[a] > weights[b]
		}
		if quality[a] != quality[b] {
			return quality[a] > quality[b]
		}
		return a < b
	})
	if len(order) > limit {
		order = order[:limit]
	}

	acceptable := 0
	for _, url := range order {
		if quality[url] >= DefaultQualityThreshold {
			acceptable++
		}
	}

	policy := s.policy
	if policy == nil {
		policy = s.r.cb.FallbackPolicy
	}
	more := policy(acceptable, limit)
	if more > 0 {
		present := make(map[string]struct{}, len(order))
		for _, url := range order {
			present[url] = struct{}{}
		}
		for _, url := range s.r.cb.GetFallbackRelays() {
			if more == 0 || len(order) >= limit {
				break
			}
			url = normalize.URL(url)
			if url == "" {
				continue
			}
			if _, have := present[url]; have {
				continue
			}
			present[url] = struct{}{}
			order = append(order, url)
			more--
		}
	}
	return order
}

// GetURL returns the single best relay, or "".
func (s *Scenario) GetURL() string {
	urls := s.GetURLs()
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

// ForUser selects relays to read a user's own content from.
func (r *R) ForUser(pubkey string) *Scenario {
	return r.Scenario().Add(r.cb.GetPubkeyRelays(pubkey, ModeRead), 1)
}

// ForPublish selects relays to publish an event to: the author's write
// relays, plus the inbox relays of everyone mentioned.
func (r *R) ForPublish(ev *event.T) *Scenario {
	s := r.Scenario().Add(r.cb.GetPubkeyRelays(ev.PubKey, ModeWrite), 1)
	for _, t := range ev.Tags {
		if t.Key() == "p" {
			s.Add(r.cb.GetPubkeyRelays(t.Value(), ModeInbox), 0.5)
		}
	}
	return s
}

// ForInbox selects relays that deliver mentions and inbox traffic for a
// pubkey.
func (r *R) ForInbox(pubkey string) *Scenario {
	return r.Scenario().Add(r.cb.GetPubkeyRelays(pubkey, ModeInbox), 1)
}

// ForThread selects relays for an event's ancestor and thread context:
// the relay hints carried on its e and a tags, plus the author's read
// relays.
func (r *R) ForThread(ev *event.T) *Scenario {
	var hints []string
	for _, t := range ev.Tags {
		if hint := t.RelayHint(); hint != "" {
			hints = append(hints, hint)
		}
	}
	return r.Scenario().
		Add(hints, 1).
		Add(r.cb.GetPubkeyRelays(ev.PubKey, ModeRead), 0.5)
}

// FromRelays selects exactly the given relays, subject to the usual
// reduction.
func (r *R) FromRelays(urls []string) *Scenario {
	return r.Scenario().Add(urls, 1)
}

// Merge unions relay URL sets, preserving first-appearance order.
func Merge(sets ...[]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, url := range set {
			url = normalize.URL(url)
			if url == "" {
				continue
			}
			if _, have := seen[url]; have {
				continue
			}
			seen[url] = struct{}{}
			out = append(out, url)
		}
	}
	return out
}

// Intersect keeps URLs present in every set. An empty result is
// returned as-is: what to do when nothing matches is the caller's
// policy, not the router's.
func Intersect(sets ...[]string) []string {
	if len(sets) == 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, set := range sets {
		inSet := make(map[string]struct{})
		for _, url := range set {
			url = normalize.URL(url)
			if url == "" {
				continue
			}
			if _, dup := inSet[url]; dup {
				continue
			}
			inSet[url] = struct{}{}
			if counts[url] == 0 {
				order = append(order, url)
			}
			counts[url]++
		}
	}
	var out []string
	for _, url := range order {
		if counts[url] == len(sets) {
			out = append(out, url)
		}
	}
	return out
}
