// Package socket owns one transport connection to one relay URL. It
// frames and unframes protocol messages, queues sends while the
// connection is not open, and emits typed envelopes and state changes to
// registered observers.
package socket

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/sentinel"
	"github.com/seinelabs/seine/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

const (
	defaultPingInterval = 29 * time.Second
	defaultDialTimeout  = 15 * time.Second
)

// Status is the connection state of a socket.
type Status int32

const (
	StatusPending Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// S is the socket surface the connection layer drives. *T implements it;
// tests substitute fakes.
type S interface {
	URL() string
	Status() Status
	Open(c context.T) error
	Send(msg []byte)
	Close() error
	OnMessage(fn func(envelopes.E)) (unsub func())
	OnState(fn func(Status)) (unsub func())
}

// T is a socket over one websocket connection.
type T struct {
	url           string
	dial          DialFunc
	requestHeader http.Header
	pingInterval  time.Duration

	mx            sync.Mutex
	status        Status
	conn          Conn
	pending       [][]byte
	sessionCancel context.F

	writeMx sync.Mutex

	obsMx     sync.Mutex
	nextObs   int
	msgSubs   []observer[func(envelopes.E)]
	stateSubs []observer[func(Status)]

	notifyMx    sync.Mutex
	notifyQueue []Status
	notifying   bool
}

type observer[F any] struct {
	id int
	fn F
}

var _ S = (*T)(nil)

// Option configures a socket.
type Option func(*T)

// WithDial overrides the transport dialer.
func WithDial(d DialFunc) Option { return func(s *T) { s.dial = d } }

// WithRequestHeader sets headers for the websocket handshake, e.g. an
// Origin header.
func WithRequestHeader(h http.Header) Option { return func(s *T) { s.requestHeader = h } }

// WithPingInterval overrides the keepalive ping interval.
func WithPingInterval(d time.Duration) Option { return func(s *T) { s.pingInterval = d } }

// New creates a socket in the Pending state. No I/O happens until Open.
func New(url string, opts ...Option) *T {
	s := &T{
		url:          url,
		dial:         Dial,
		pingInterval: defaultPingInterval,
		status:       StatusPending,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *T) URL() string { return s.url }

func (s *T) Status() Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.status
}

// Open transitions Pending/Closed/Error to Connecting and dials. It is
// idempotent while already connecting or open. If the context expires
// before the handshake completes an error is returned and the socket is
// left in the Error state, from which Open may be called again.
func (s *T) Open(c context.T) error {
	s.mx.Lock()
	switch s.status {
	case StatusConnecting, StatusOpen:
		s.mx.Unlock()
		return nil
	case StatusClosing:
		s.mx.Unlock()
		return fmt.Errorf("socket %s is closing", s.url)
	}
	s.setStatusLocked(StatusConnecting)
	s.mx.Unlock()

	if _, ok := c.Deadline(); !ok {
		var cancel context.F
		c, cancel = context.Timeout(c, defaultDialTimeout)
		defer cancel()
	}

	conn, err := s.dial(c, s.url, s.requestHeader)
	if err != nil {
		s.mx.Lock()
		s.setStatusLocked(StatusError)
		s.mx.Unlock()
		return fmt.Errorf("error opening websocket to '%s': %w", s.url, err)
	}

	s.mx.Lock()
	if s.status != StatusConnecting {
		// closed from under us while dialing
		s.mx.Unlock()
		conn.Close()
		return fmt.Errorf("socket %s closed while connecting", s.url)
	}
	ctx, cancel := context.Cancel(context.Bg())
	s.conn = conn
	s.sessionCancel = cancel
	queued := s.pending
	s.pending = nil
	s.setStatusLocked(StatusOpen)
	s.mx.Unlock()

	// flush everything queued while not open, in FIFO order
	for _, msg := range queued {
		if err := s.write(conn, msg); err != nil {
			s.fail(err)
			return nil
		}
	}

	go s.readPump(ctx, conn)
	go s.pinger(ctx, conn)
	return nil
}

// Send queues a message while the socket is not open and writes it
// directly when it is. Messages sent after Close are dropped.
func (s *T) Send(msg []byte) {
	s.mx.Lock()
	switch s.status {
	case StatusOpen:
		conn := s.conn
		s.mx.Unlock()
		if err := s.write(conn, msg); err != nil {
			s.fail(err)
		}
		return
	case StatusClosing, StatusClosed:
		s.mx.Unlock()
		log.D.F("{%s} dropping send on %s socket", s.url, s.Status())
		return
	}
	s.pending = append(s.pending, msg)
	s.mx.Unlock()
}

// Close transitions to Closing then Closed and releases the transport.
// Nothing queued is flushed. Idempotent.
func (s *T) Close() error {
	s.mx.Lock()
	if s.status == StatusClosed || s.status == StatusClosing {
		s.mx.Unlock()
		return nil
	}
	s.setStatusLocked(StatusClosing)
	conn := s.conn
	cancel := s.sessionCancel
	s.conn = nil
	s.sessionCancel = nil
	s.pending = nil
	s.mx.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.mx.Lock()
	s.setStatusLocked(StatusClosed)
	s.mx.Unlock()
	return err
}

// OnMessage registers an observer for decoded inbound envelopes.
// Observers are called in registration order from the read goroutine.
func (s *T) OnMessage(fn func(envelopes.E)) (unsub func()) {
	s.obsMx.Lock()
	id := s.nextObs
	s.nextObs++
	s.msgSubs = append(s.msgSubs, observer[func(envelopes.E)]{id, fn})
	s.obsMx.Unlock()
	return func() {
		s.obsMx.Lock()
		defer s.obsMx.Unlock()
		for i, o := range s.msgSubs {
			if o.id == id {
				s.msgSubs = append(s.msgSubs[:i], s.msgSubs[i+1:]...)
				return
			}
		}
	}
}

// OnState registers an observer for socket state transitions.
func (s *T) OnState(fn func(Status)) (unsub func()) {
	s.obsMx.Lock()
	id := s.nextObs
	s.nextObs++
	s.stateSubs = append(s.stateSubs, observer[func(Status)]{id, fn})
	s.obsMx.Unlock()
	return func() {
		s.obsMx.Lock()
		defer s.obsMx.Unlock()
		for i, o := range s.stateSubs {
			if o.id == id {
				s.stateSubs = append(s.stateSubs[:i], s.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// setStatusLocked must be called with s.mx held. Observers are notified
// from a separate goroutine, in transition order, so a state callback
// can call back into the socket without deadlocking.
func (s *T) setStatusLocked(st Status) {
	if s.status == st {
		return
	}
	s.status = st
	s.notifyMx.Lock()
	s.notifyQueue = append(s.notifyQueue, st)
	if s.notifying {
		s.notifyMx.Unlock()
		return
	}
	s.notifying = true
	s.notifyMx.Unlock()
	go s.drainNotify()
}

func (s *T) drainNotify() {
	for {
		s.notifyMx.Lock()
		if len(s.notifyQueue) == 0 {
			s.notifying = false
			s.notifyMx.Unlock()
			return
		}
		st := s.notifyQueue[0]
		s.notifyQueue = s.notifyQueue[1:]
		s.notifyMx.Unlock()

		s.obsMx.Lock()
		subs := make([]observer[func(Status)], len(s.stateSubs))
		copy(subs, s.stateSubs)
		s.obsMx.Unlock()
		for _, o := range subs {
			o.fn(st)
		}
	}
}

func (s *T) write(conn Conn, msg []byte) error {
	s.writeMx.Lock()
	defer s.writeMx.Unlock()
	log.T.F("{%s} sending %s", s.url, string(msg))
	return conn.WriteMessage(msg)
}

// fail moves the socket to the Error state and releases the transport.
// The socket may be reopened later; queued messages are kept.
func (s *T) fail(err error) {
	s.mx.Lock()
	if s.status == StatusClosing || s.status == StatusClosed ||
		s.status == StatusError {
		s.mx.Unlock()
		return
	}
	log.D.F("{%s} socket error: %v", s.url, err)
	conn := s.conn
	cancel := s.sessionCancel
	s.conn = nil
	s.sessionCancel = nil
	s.setStatusLocked(StatusError)
	s.mx.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

func (s *T) readPump(c context.T, conn Conn) {
	buf := new(bytes.Buffer)
	for {
		buf.Reset()
		if err := conn.ReadMessage(c, buf); err != nil {
			s.mx.Lock()
			closing := s.status == StatusClosing || s.status == StatusClosed
			s.mx.Unlock()
			if !closing {
				s.fail(err)
			}
			return
		}
		env := sentinel.ParseMessage(buf.Bytes())
		if env == nil {
			// a malformed frame is dropped, never fatal to the connection
			log.D.F("{%s} dropping unparseable frame %s", s.url, buf.String())
			continue
		}
		log.T.F("{%s} received %s", s.url, env.Label())
		s.obsMx.Lock()
		subs := make([]observer[func(envelopes.E)], len(s.msgSubs))
		copy(subs, s.msgSubs)
		s.obsMx.Unlock()
		for _, o := range subs {
			o.fn(env)
		}
	}
}

func (s *T) pinger(c context.T, conn Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); chk.D(err) {
				s.fail(fmt.Errorf("error writing ping: %w", err))
				return
			}
		case <-c.Done():
			return
		}
	}
}
