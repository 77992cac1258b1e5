package tracker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackFirstSeen(t *testing.T) {
	tr := New(0)

	require.True(t, tr.Track("id1", "wss://a.example"))
	require.False(t, tr.Track("id1", "wss://b.example"))
	require.False(t, tr.Track("id1", "wss://a.example"))
	require.True(t, tr.Track("id2", "wss://a.example"))

	require.True(t, tr.Seen("id1"))
	require.False(t, tr.Seen("id3"))
	require.ElementsMatch(t,
		[]string{"wss://a.example", "wss://b.example"}, tr.Relays("id1"))
	require.Nil(t, tr.Relays("id3"))
}

func TestTrackNormalizesURLs(t *testing.T) {
	tr := New(0)
	tr.Track("id1", "WSS://A.EXAMPLE/")
	tr.Track("id1", "a.example")
	require.Equal(t, []string{"wss://a.example"}, tr.Relays("id1"))
}

func TestLRUBound(t *testing.T) {
	tr := New(10)
	for i := 0; i < 25; i++ {
		tr.Track(fmt.Sprintf("id%d", i), "wss://a.example")
	}
	require.Equal(t, 10, tr.Len())
	require.False(t, tr.Seen("id0"), "oldest entries age out")
	require.True(t, tr.Seen("id24"))

	// an aged-out id reads as brand new again
	require.True(t, tr.Track("id0", "wss://a.example"))
}
