package pool

import (
	"testing"
	"time"

	"github.com/seinelabs/seine/pkg/connection"
	"github.com/stretchr/testify/require"
)

func countingFactory(made *[]string) Factory {
	return func(url string) *connection.T {
		*made = append(*made, url)
		return connection.New(url)
	}
}

func TestGetDeduplicatesByNormalizedURL(t *testing.T) {
	var made []string
	p := New(WithFactory(countingFactory(&made)))

	a := p.Get("wss://relay.example")
	b := p.Get("RELAY.EXAMPLE")
	c := p.Get("https://relay.example/")
	require.Same(t, a, b)
	require.Same(t, a, c)
	require.Len(t, made, 1)
	require.Equal(t, "wss://relay.example", made[0])
	require.Equal(t, 1, p.Size())
}

func TestGetIsLazy(t *testing.T) {
	p := New()
	c := p.Get("wss://relay.example")
	require.NotNil(t, c)
	// nothing dialed: the socket is still pending
	require.Equal(t, "pending", c.Socket().Status().String())
}

func TestRemove(t *testing.T) {
	p := New()
	p.Get("wss://a.example")
	p.Get("wss://b.example")
	require.Equal(t, 2, p.Size())

	p.Remove("wss://a.example")
	require.Equal(t, 1, p.Size())
	require.False(t, p.Has("wss://a.example"))
	require.True(t, p.Has("wss://b.example"))

	p.Remove("wss://a.example") // removing twice is fine
	require.Equal(t, 1, p.Size())
}

func TestMaxConnectionsEvictsLeastRecentlyUsedIdle(t *testing.T) {
	p := New(WithMaxConnections(2))

	a := p.Get("wss://a.example")
	time.Sleep(2 * time.Millisecond)
	p.Get("wss://b.example")
	time.Sleep(2 * time.Millisecond)
	a.Touch() // a is now fresher than b

	p.Get("wss://c.example")
	require.Equal(t, 2, p.Size())
	require.True(t, p.Has("wss://a.example"))
	require.False(t, p.Has("wss://b.example"), "least recently used must go")
	require.True(t, p.Has("wss://c.example"))
}

func TestBusyConnectionsAreNotEvicted(t *testing.T) {
	p := New(WithMaxConnections(2))

	a := p.Get("wss://a.example")
	b := p.Get("wss://b.example")
	a.Subscribe("live", connection.SubHandler{})
	b.AwaitOK("abcd", func(bool, string) {})

	p.Get("wss://c.example")
	require.Equal(t, 3, p.Size(), "pool grows past cap rather than cutting traffic")
	require.True(t, p.Has("wss://a.example"))
	require.True(t, p.Has("wss://b.example"))
}

func TestClose(t *testing.T) {
	p := New()
	p.Get("wss://a.example")
	p.Get("wss://b.example")
	p.Close()
	require.Equal(t, 0, p.Size())
}
