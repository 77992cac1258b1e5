package seine

import (
	"fmt"
	"testing"

	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/seinelabs/seine/pkg/router"
	"github.com/seinelabs/seine/pkg/subscription"
	"github.com/seinelabs/seine/pkg/thunk"
	"github.com/stretchr/testify/require"
)

func makeEvent(author byte, k kind.T, content string) *event.T {
	ev := &event.T{
		PubKey:    fmt.Sprintf("%064x", author),
		CreatedAt: timestamp.Now(),
		Kind:      k,
		Content:   content,
		Sig:       fmt.Sprintf("%0128x", 1),
	}
	ev.ID = ev.GetID()
	return ev
}

func TestLoadServedEntirelyFromCache(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	cached := makeEvent(1, kind.TextNote, "already here")
	_, err := c.Repository.Publish(cached)
	require.NoError(t, err)

	evs, err := c.Load(context.Bg(), subscription.Request{
		Filters: filters.T{{IDs: []string{cached.ID}}},
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, cached.ID, evs[0].ID)
	require.Equal(t, 0, c.Pool.Size(), "no connection was needed")
}

func TestReadRelaySelection(t *testing.T) {
	alice := fmt.Sprintf("%064x", 1)
	c := New(Options{
		Router: router.Callbacks{
			GetPubkeyRelays: func(pubkey string, mode router.Mode) []string {
				if pubkey == alice && mode == router.ModeRead {
					return []string{"wss://alice.example"}
				}
				return nil
			},
			GetFallbackRelays: func() []string {
				return []string{"wss://fallback.example"}
			},
			FallbackPolicy: router.FallbackPolicyMinimal,
		},
	})
	defer c.Close()

	urls := c.selectReadRelays(filters.T{{Authors: []string{alice}}})
	require.Equal(t, []string{"wss://alice.example"}, urls)

	urls = c.selectReadRelays(filters.T{{Kinds: []kind.T{kind.TextNote}}})
	require.Equal(t, []string{"wss://fallback.example"}, urls,
		"authorless filters fall back")
}

func TestRequestDVMValidatesKind(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	_, _, err := c.RequestDVM(context.Bg(), DVMRequest{
		Request: makeEvent(1, kind.TextNote, "not a job"),
	})
	require.Error(t, err)

	_, _, err = c.RequestDVM(context.Bg(), DVMRequest{})
	require.Error(t, err)
}

func TestPublishAllRejectsBadBatchBeforeIO(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	_, err := c.PublishAll(context.Bg(), []thunk.Request{
		{Event: makeEvent(1, kind.TextNote, "fine"), Relays: []string{"wss://a.example"}},
		{Event: nil, Relays: []string{"wss://a.example"}},
	})
	require.Error(t, err)
}
