package thunk

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/seinelabs/seine/pkg/connection"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/okenvelope"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/seinelabs/seine/pkg/pool"
	"github.com/seinelabs/seine/pkg/repository"
	"github.com/seinelabs/seine/pkg/socket"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeSocket struct {
	mx      sync.Mutex
	url     string
	status  socket.Status
	sent    [][]byte
	msgSubs []func(envelopes.E)
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{url: url, status: socket.StatusPending}
}

func (f *fakeSocket) URL() string { return f.url }

func (f *fakeSocket) Status() socket.Status {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.status
}

func (f *fakeSocket) Open(c context.T) error {
	f.mx.Lock()
	f.status = socket.StatusOpen
	f.mx.Unlock()
	return nil
}

func (f *fakeSocket) Send(msg []byte) {
	f.mx.Lock()
	defer f.mx.Unlock()
	cp := make([]byte, len(msg))
	copy(cp, msg)
	f.sent = append(f.sent, cp)
}

func (f *fakeSocket) Close() error { return nil }

func (f *fakeSocket) OnMessage(fn func(envelopes.E)) func() {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.msgSubs = append(f.msgSubs, fn)
	return func() {}
}

func (f *fakeSocket) OnState(fn func(socket.Status)) func() { return func() {} }

func (f *fakeSocket) inject(env envelopes.E) {
	f.mx.Lock()
	subs := make([]func(envelopes.E), len(f.msgSubs))
	copy(subs, f.msgSubs)
	f.mx.Unlock()
	for _, fn := range subs {
		fn(env)
	}
}

func (f *fakeSocket) frames() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	out := make([]string, len(f.sent))
	for i, b := range f.sent {
		out[i] = string(b)
	}
	return out
}

type harness struct {
	engine  *Engine
	repo    *repository.T
	clock   *clock.Mock
	sockets map[string]*fakeSocket
}

func newHarness(urls ...string) *harness {
	h := &harness{
		repo:    repository.New(),
		clock:   clock.NewMock(),
		sockets: make(map[string]*fakeSocket),
	}
	for _, url := range urls {
		h.sockets[url] = newFakeSocket(url)
	}
	p := pool.New(pool.WithFactory(func(url string) *connection.T {
		fs, have := h.sockets[url]
		if !have {
			fs = newFakeSocket(url)
			h.sockets[url] = fs
		}
		return connection.New(url, connection.WithSocket(fs))
	}))
	h.engine = NewEngine(Options{Pool: p, Repository: h.repo, Clock: h.clock})
	return h
}

func (h *harness) waitForEvent(t *testing.T, urls ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, url := range urls {
			if len(h.sockets[url].frames()) == 0 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
}

func makeEvent(content string) *event.T {
	ev := &event.T{
		PubKey:    fmt.Sprintf("%064x", 7),
		CreatedAt: timestamp.T(1000),
		Kind:      kind.TextNote,
		Content:   content,
		Sig:       fmt.Sprintf("%0128x", 1),
	}
	ev.ID = ev.GetID()
	return ev
}

func waitComplete(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}
}

func TestPublishCommitsLocallyBeforeAcknowledgement(t *testing.T) {
	h := newHarness("wss://a.example")
	ev := makeEvent("optimistic")
	th, err := h.engine.Publish(context.Bg(), Request{
		Event: ev, Relays: []string{"wss://a.example"},
	})
	require.NoError(t, err)

	_, have := h.repo.Get(ev.ID)
	require.True(t, have, "local readers see the event before any OK")
	require.Equal(t, StatusPending, th.Result("wss://a.example").Status)
}

func TestPublishSendsBareEventEnvelope(t *testing.T) {
	h := newHarness("wss://a.example")
	ev := makeEvent("wire shape")
	_, err := h.engine.Publish(context.Bg(), Request{
		Event: ev, Relays: []string{"wss://a.example"},
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://a.example")

	parsed := gjson.Parse(h.sockets["wss://a.example"].frames()[0]).Array()
	require.Len(t, parsed, 2, `client publishes are ["EVENT", event]`)
	require.Equal(t, "EVENT", parsed[0].Str)
	require.Equal(t, ev.ID, parsed[1].Get("id").Str)
}

func TestPerRelayVerdicts(t *testing.T) {
	h := newHarness("wss://ok.example", "wss://no.example")
	ev := makeEvent("verdicts")
	th, err := h.engine.Publish(context.Bg(), Request{
		Event:  ev,
		Relays: []string{"wss://ok.example", "wss://no.example"},
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://ok.example", "wss://no.example")

	h.sockets["wss://ok.example"].inject(&okenvelope.T{
		EventID: ev.ID, OK: true, Reason: "stored",
	})
	h.sockets["wss://no.example"].inject(&okenvelope.T{
		EventID: ev.ID, OK: false, Reason: "blocked: spam",
	})
	waitComplete(t, th.Complete())

	require.Equal(t, Result{StatusSuccess, "stored"}, th.Result("wss://ok.example"))
	require.Equal(t, Result{StatusFailure, "blocked: spam"}, th.Result("wss://no.example"))
	require.True(t, th.Succeeded())
}

func TestPublishTimeout(t *testing.T) {
	h := newHarness("wss://silent.example")
	th, err := h.engine.Publish(context.Bg(), Request{
		Event:   makeEvent("anyone there"),
		Relays:  []string{"wss://silent.example"},
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://silent.example")

	h.clock.Add(2 * time.Second)
	waitComplete(t, th.Complete())
	require.Equal(t, StatusTimeout, th.Result("wss://silent.example").Status)
	require.False(t, th.Succeeded())
}

func TestDelayedPublishCanBeAbortedCleanly(t *testing.T) {
	h := newHarness("wss://a.example")
	ev := makeEvent("on second thought")
	th, err := h.engine.Publish(context.Bg(), Request{
		Event:  ev,
		Relays: []string{"wss://a.example"},
		Delay:  5 * time.Second,
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.Empty(t, h.sockets["wss://a.example"].frames(),
		"nothing goes out during the grace period")

	th.Abort()
	waitComplete(t, th.Complete())
	require.Equal(t, StatusAborted, th.Result("wss://a.example").Status)

	h.clock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, h.sockets["wss://a.example"].frames())

	// the optimistic local commit stays; cache state is monotone
	_, have := h.repo.Get(ev.ID)
	require.True(t, have)
}

func TestAbortKeepsResolvedEntries(t *testing.T) {
	h := newHarness("wss://fast.example", "wss://slow.example")
	ev := makeEvent("partial")
	th, err := h.engine.Publish(context.Bg(), Request{
		Event:  ev,
		Relays: []string{"wss://fast.example", "wss://slow.example"},
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://fast.example", "wss://slow.example")

	h.sockets["wss://fast.example"].inject(&okenvelope.T{
		EventID: ev.ID, OK: true, Reason: "",
	})
	th.Abort()
	th.Abort() // idempotent
	waitComplete(t, th.Complete())

	require.Equal(t, StatusSuccess, th.Result("wss://fast.example").Status)
	require.Equal(t, StatusAborted, th.Result("wss://slow.example").Status)

	// a late verdict for an aborted entry changes nothing
	h.sockets["wss://slow.example"].inject(&okenvelope.T{
		EventID: ev.ID, OK: true, Reason: "",
	})
	require.Equal(t, StatusAborted, th.Result("wss://slow.example").Status)
}

func TestMergeResolvesAfterAllConstituents(t *testing.T) {
	h := newHarness("wss://a.example", "wss://b.example")
	evA := makeEvent("first")
	evB := makeEvent("second")

	thA, err := h.engine.Publish(context.Bg(), Request{
		Event: evA, Relays: []string{"wss://a.example"},
	})
	require.NoError(t, err)
	thB, err := h.engine.Publish(context.Bg(), Request{
		Event: evB, Relays: []string{"wss://b.example"},
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://a.example", "wss://b.example")

	merged := Merge(thA, thB)
	h.sockets["wss://a.example"].inject(&okenvelope.T{EventID: evA.ID, OK: true})

	select {
	case <-merged.Complete():
		t.Fatal("merged result resolved before every constituent")
	case <-time.After(20 * time.Millisecond):
	}

	h.sockets["wss://b.example"].inject(&okenvelope.T{EventID: evB.ID, OK: true})
	waitComplete(t, merged.Complete())

	results := merged.Results()
	require.Equal(t, StatusSuccess, results["wss://a.example"].Status)
	require.Equal(t, StatusSuccess, results["wss://b.example"].Status)
}

func TestPublishFailsFastOnBadInput(t *testing.T) {
	h := newHarness("wss://a.example")

	_, err := h.engine.Publish(context.Bg(), Request{
		Relays: []string{"wss://a.example"},
	})
	require.Error(t, err)

	_, err = h.engine.Publish(context.Bg(), Request{
		Event:  &event.T{ID: "nope"},
		Relays: []string{"wss://a.example"},
	})
	require.Error(t, err)

	_, err = h.engine.Publish(context.Bg(), Request{Event: makeEvent("nowhere")})
	require.Error(t, err)

	require.Empty(t, h.sockets["wss://a.example"].frames(),
		"caller input errors happen before any I/O")
}

func TestRepublishingKnownEventStillGoesToTheNetwork(t *testing.T) {
	h := newHarness("wss://a.example")
	ev := makeEvent("already cached")
	_, err := h.repo.Publish(ev)
	require.NoError(t, err)

	_, err = h.engine.Publish(context.Bg(), Request{
		Event: ev, Relays: []string{"wss://a.example"},
	})
	require.NoError(t, err)
	h.waitForEvent(t, "wss://a.example")
	require.Equal(t, 1, h.repo.Size())
}
