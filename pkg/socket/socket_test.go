package socket

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eoseenvelope"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mx      sync.Mutex
	written [][]byte
	inbound chan []byte
	broken  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		broken:  make(chan struct{}),
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) ReadMessage(c context.T, buf io.Writer) error {
	select {
	case msg := <-f.inbound:
		_, err := buf.Write(msg)
		return err
	case <-f.broken:
		return errors.New("connection reset")
	case <-c.Done():
		return context.Canceled
	}
}

func (f *fakeConn) Ping() error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.broken) })
	return nil
}

func (f *fakeConn) sent() [][]byte {
	f.mx.Lock()
	defer f.mx.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func dialTo(fc *fakeConn, dials *int) DialFunc {
	return func(c context.T, url string, h http.Header) (Conn, error) {
		if dials != nil {
			*dials++
		}
		return fc, nil
	}
}

func TestQueueFlushedFIFOOnOpen(t *testing.T) {
	fc := newFakeConn()
	s := New("wss://relay.test", WithDial(dialTo(fc, nil)))
	require.Equal(t, StatusPending, s.Status())

	s.Send([]byte("first"))
	s.Send([]byte("second"))
	require.Empty(t, fc.sent(), "nothing may be written before open")

	require.NoError(t, s.Open(context.Bg()))
	require.Equal(t, StatusOpen, s.Status())

	sent := fc.sent()
	require.Len(t, sent, 2)
	require.Equal(t, "first", string(sent[0]))
	require.Equal(t, "second", string(sent[1]))

	s.Send([]byte("third"))
	require.Eventually(t, func() bool { return len(fc.sent()) == 3 },
		time.Second, 5*time.Millisecond)
}

func TestOpenIdempotent(t *testing.T) {
	fc := newFakeConn()
	dials := 0
	s := New("wss://relay.test", WithDial(dialTo(fc, &dials)))
	require.NoError(t, s.Open(context.Bg()))
	require.NoError(t, s.Open(context.Bg()))
	require.Equal(t, 1, dials)
}

func TestDialFailureSetsErrorAndIsRetryable(t *testing.T) {
	fc := newFakeConn()
	fail := true
	s := New("wss://relay.test", WithDial(
		func(c context.T, url string, h http.Header) (Conn, error) {
			if fail {
				return nil, errors.New("refused")
			}
			return fc, nil
		}))
	require.Error(t, s.Open(context.Bg()))
	require.Equal(t, StatusError, s.Status())

	fail = false
	require.NoError(t, s.Open(context.Bg()))
	require.Equal(t, StatusOpen, s.Status())
}

func TestInboundDispatchAndMalformedFramesDropped(t *testing.T) {
	fc := newFakeConn()
	s := New("wss://relay.test", WithDial(dialTo(fc, nil)))

	var mx sync.Mutex
	var got []envelopes.E
	unsub := s.OnMessage(func(env envelopes.E) {
		mx.Lock()
		got = append(got, env)
		mx.Unlock()
	})
	defer unsub()

	require.NoError(t, s.Open(context.Bg()))

	fc.inbound <- []byte(`this is not an envelope`)
	fc.inbound <- []byte(`["EOSE","sub1"]`)

	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mx.Lock()
	defer mx.Unlock()
	eose, is := got[0].(*eoseenvelope.T)
	require.True(t, is)
	require.Equal(t, "sub1", string(*eose))
	require.Equal(t, StatusOpen, s.Status(), "malformed frame must not kill the connection")
}

func TestReadErrorMovesToErrorState(t *testing.T) {
	fc := newFakeConn()
	s := New("wss://relay.test", WithDial(dialTo(fc, nil)))
	require.NoError(t, s.Open(context.Bg()))

	fc.Close() // breaks the read pump

	require.Eventually(t, func() bool { return s.Status() == StatusError },
		time.Second, 5*time.Millisecond)
}

func TestCloseDropsFurtherSends(t *testing.T) {
	fc := newFakeConn()
	s := New("wss://relay.test", WithDial(dialTo(fc, nil)))
	require.NoError(t, s.Open(context.Bg()))
	require.NoError(t, s.Close())
	require.Equal(t, StatusClosed, s.Status())

	s.Send([]byte("too late"))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, fc.sent())

	require.NoError(t, s.Close(), "close must be idempotent")
}

func TestStateObserver(t *testing.T) {
	fc := newFakeConn()
	s := New("wss://relay.test", WithDial(dialTo(fc, nil)))

	var mx sync.Mutex
	var states []Status
	s.OnState(func(st Status) {
		mx.Lock()
		states = append(states, st)
		mx.Unlock()
	})

	require.NoError(t, s.Open(context.Bg()))
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		if len(states) < 4 {
			return false
		}
		return states[0] == StatusConnecting && states[1] == StatusOpen &&
			states[2] == StatusClosing && states[3] == StatusClosed
	}, time.Second, 5*time.Millisecond)
}
