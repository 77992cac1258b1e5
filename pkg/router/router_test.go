package router

import (
	"testing"

	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/tag"
	"github.com/seinelabs/seine/pkg/nostr/tags"
	"github.com/stretchr/testify/require"
)

func TestScenarioMergesWeightsAndSorts(t *testing.T) {
	r := New(Callbacks{GetLimit: func() int { return 10 }})

	urls := r.Scenario().
		Add([]string{"wss://a.example", "wss://b.example"}, 1).
		Add([]string{"wss://b.example", "wss://c.example"}, 1).
		GetURLs()

	// b contributed twice, so it leads
	require.Equal(t, []string{"wss://b.example", "wss://a.example", "wss://c.example"}, urls)
}

func TestScenarioQualityBreaksTies(t *testing.T) {
	r := New(Callbacks{
		GetLimit: func() int { return 10 },
		GetRelayQuality: func(url string) float64 {
			if url == "wss://good.example" {
				return 0.9
			}
			return 0.6
		},
	})

	urls := r.Scenario().
		Add([]string{"wss://meh.example", "wss://good.example"}, 1).
		GetURLs()
	require.Equal(t, []string{"wss://good.example", "wss://meh.example"}, urls)
}

func TestScenarioTruncatesToLimit(t *testing.T) {
	r := New(Callbacks{GetLimit: func() int { return 2 }})
	urls := r.Scenario().
		Add([]string{"wss://a.example"}, 3).
		Add([]string{"wss://b.example"}, 2).
		Add([]string{"wss://c.example"}, 1).
		GetURLs()
	require.Equal(t, []string{"wss://a.example", "wss://b.example"}, urls)
}

func TestScenarioNormalizesAndDeduplicates(t *testing.T) {
	r := New(Callbacks{})
	urls := r.Scenario().
		Add([]string{"RELAY.EXAMPLE/", "wss://relay.example", ""}, 1).
		GetURLs()
	require.Equal(t, []string{"wss://relay.example"}, urls)
}

// Two low quality primaries plus one fallback must fill the limit of
// three, because the fallback policy only counts acceptable relays.
func TestFallbackFillsPastLowQualitySelection(t *testing.T) {
	r := New(Callbacks{
		GetLimit:          func() int { return 3 },
		GetFallbackRelays: func() []string { return []string{"wss://fallback.example"} },
		GetRelayQuality: func(url string) float64 {
			if url == "wss://fallback.example" {
				return 1
			}
			return 0.1
		},
	})

	urls := r.Scenario().
		Add([]string{"wss://shaky1.example", "wss://shaky2.example"}, 1).
		GetURLs()
	require.Len(t, urls, 3)
	require.Contains(t, urls, "wss://fallback.example")
}

func TestFallbackPolicyMinimal(t *testing.T) {
	r := New(Callbacks{
		GetFallbackRelays: func() []string { return []string{"wss://fallback.example"} },
		FallbackPolicy:    FallbackPolicyMinimal,
	})

	urls := r.Scenario().Add([]string{"wss://a.example"}, 1).GetURLs()
	require.Equal(t, []string{"wss://a.example"}, urls)

	urls = r.Scenario().GetURLs()
	require.Equal(t, []string{"wss://fallback.example"}, urls)
}

func TestFallbackNeverDuplicates(t *testing.T) {
	r := New(Callbacks{
		GetLimit:          func() int { return 3 },
		GetFallbackRelays: func() []string { return []string{"wss://a.example", "wss://b.example"} },
		GetRelayQuality:   func(string) float64 { return 0.1 },
	})
	urls := r.Scenario().Add([]string{"wss://a.example"}, 1).GetURLs()
	require.Equal(t, []string{"wss://a.example", "wss://b.example"}, urls)
}

func relayTable(t *testing.T) func(pubkey string, mode Mode) []string {
	t.Helper()
	return func(pubkey string, mode Mode) []string {
		key := pubkey + ":"
		switch mode {
		case ModeRead:
			key += "read"
		case ModeWrite:
			key += "write"
		case ModeInbox:
			key += "inbox"
		}
		return map[string][]string{
			"alice:read":  {"wss://alice-read.example"},
			"alice:write": {"wss://alice-write.example"},
			"bob:inbox":   {"wss://bob-inbox.example"},
		}[key]
	}
}

func TestNamedScenarios(t *testing.T) {
	r := New(Callbacks{
		GetPubkeyRelays: relayTable(t),
		FallbackPolicy:  FallbackPolicyMinimal,
	})

	require.Equal(t, []string{"wss://alice-read.example"},
		r.ForUser("alice").GetURLs())
	require.Equal(t, []string{"wss://bob-inbox.example"},
		r.ForInbox("bob").GetURLs())

	ev := &event.T{
		PubKey: "alice",
		Kind:   kind.TextNote,
		Tags:   tags.T{tag.T{"p", "bob"}},
	}
	urls := r.ForPublish(ev).GetURLs()
	require.Equal(t, []string{"wss://alice-write.example", "wss://bob-inbox.example"}, urls,
		"own write relays outweigh mentioned inboxes")

	reply := &event.T{
		PubKey: "alice",
		Kind:   kind.TextNote,
		Tags: tags.T{
			tag.T{"e", "abcd", "wss://hint.example", "root"},
		},
	}
	urls = r.ForThread(reply).GetURLs()
	require.Equal(t, []string{"wss://hint.example", "wss://alice-read.example"}, urls,
		"tag hints outweigh author relays")

	require.Equal(t, "wss://a.example",
		r.FromRelays([]string{"wss://a.example"}).GetURL())
	require.Equal(t, "", r.Scenario().WithPolicy(FallbackPolicyMinimal).GetURL())
}

func TestMergeAndIntersect(t *testing.T) {
	a := []string{"wss://one.example", "wss://two.example"}
	b := []string{"WSS://TWO.EXAMPLE", "wss://three.example"}

	require.Equal(t,
		[]string{"wss://one.example", "wss://two.example", "wss://three.example"},
		Merge(a, b))
	require.Equal(t, []string{"wss://two.example"}, Intersect(a, b))
	require.Empty(t, Intersect(a, []string{"wss://four.example"}),
		"empty intersection is the caller's problem to interpret")
	require.Nil(t, Intersect())
}

func TestParseRelayListMetadata(t *testing.T) {
	ev := &event.T{
		Kind: kind.RelayListMetadata,
		Tags: tags.T{
			tag.T{"r", "wss://both.example"},
			tag.T{"r", "wss://read.example", "read"},
			tag.T{"r", "wss://write.example", "write"},
			tag.T{"x", "wss://ignored.example"},
		},
	}
	rl := ParseRelayList(ev)
	require.Equal(t, []string{"wss://both.example", "wss://read.example"}, rl.Read)
	require.Equal(t, []string{"wss://both.example", "wss://write.example"}, rl.Write)
	require.Equal(t, rl.Read, rl.Relays(ModeInbox))
}

func TestParseRelayListContactList(t *testing.T) {
	ev := &event.T{
		Kind: kind.ContactList,
		Content: `{
			"wss://both.example": {"read": true, "write": true},
			"wss://read.example": {"read": true, "write": false},
			"wss://bare.example": {}
		}`,
	}
	rl := ParseRelayList(ev)
	require.ElementsMatch(t,
		[]string{"wss://both.example", "wss://read.example", "wss://bare.example"}, rl.Read)
	require.ElementsMatch(t,
		[]string{"wss://both.example", "wss://bare.example"}, rl.Write)

	require.Empty(t, ParseRelayList(&event.T{Kind: kind.TextNote}).Read)
	require.Empty(t, ParseRelayList(nil).Read)
}
