// Package thunk is the publish engine: an event is committed to the
// repository optimistically, sent to a set of relays, and the per-relay
// acknowledgements are gathered into one publish record.
package thunk

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/seinelabs/seine/pkg/connection"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eventenvelope"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/pool"
	"github.com/seinelabs/seine/pkg/repository"
	"github.com/seinelabs/seine/pkg/slog"
	"github.com/seinelabs/seine/pkg/socket"
)

var log, chk = slog.New(os.Stderr)

// DefaultTimeout bounds how long a relay may take to acknowledge a
// published event.
const DefaultTimeout = 10 * time.Second

// Status is the per-relay outcome of a publish.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailure
	StatusTimeout
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusTimeout:
		return "timeout"
	case StatusAborted:
		return "aborted"
	}
	return "unknown"
}

// Result is a relay's verdict with its optional human readable message.
type Result struct {
	Status  Status
	Message string
}

// RelaySelector fills in target relays for publishes that do not name
// any; typically backed by a router publish scenario.
type RelaySelector func(ev *event.T) []string

// Options wires an engine's collaborators; nil members get defaults.
type Options struct {
	Pool       *pool.P
	Repository *repository.T
	Selector   RelaySelector
	Clock      clock.Clock
}

// Engine publishes events and tracks their acknowledgements.
type Engine struct {
	pool     *pool.P
	repo     *repository.T
	selector RelaySelector
	clock    clock.Clock
}

// NewEngine creates a publish engine.
func NewEngine(o Options) *Engine {
	if o.Pool == nil {
		o.Pool = pool.New()
	}
	if o.Repository == nil {
		o.Repository = repository.New()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return &Engine{
		pool:     o.Pool,
		repo:     o.Repository,
		selector: o.Selector,
		clock:    o.Clock,
	}
}

// Request describes one publish.
type Request struct {
	Event   *event.T
	Relays  []string      // filled by the engine's selector when empty
	Delay   time.Duration // grace period before anything is sent; Abort within it cancels cleanly
	Timeout time.Duration // per relay wait for OK, DefaultTimeout when zero
}

// T is one in-flight publish.
type T struct {
	ID    string
	Event *event.T

	engine *Engine

	mx      sync.Mutex
	relays  map[string]*relayState
	pending int
	aborted bool
	done    chan struct{}
}

type relayState struct {
	result     Result
	cancelOK   func()
	unsubState func()
	timer      *clock.Timer
}

// Publish commits the event locally, then after the request's delay
// sends it to every target relay and waits for their verdicts. Local
// readers see the event immediately; a stale or duplicate event still
// publishes to the network even though the local store rejected it.
func (e *Engine) Publish(c context.T, req Request) (*T, error) {
	if req.Event == nil {
		return nil, fmt.Errorf("publish needs an event")
	}
	if err := req.Event.Validate(); err != nil {
		return nil, err
	}
	if req.Timeout == 0 {
		req.Timeout = DefaultTimeout
	}

	relays := req.Relays
	if len(relays) == 0 && e.selector != nil {
		relays = e.selector(req.Event)
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("no relays to publish to")
	}

	// optimistic local commit
	if _, err := e.repo.Publish(req.Event); chk.D(err) {
		return nil, err
	}

	t := &T{
		ID:     uuid.NewString(),
		Event:  req.Event,
		engine: e,
		relays: make(map[string]*relayState, len(relays)),
		done:   make(chan struct{}),
	}
	conns := make([]*connection.T, 0, len(relays))
	for _, url := range relays {
		conn := e.pool.Get(url)
		if _, dup := t.relays[conn.URL()]; dup {
			continue
		}
		t.relays[conn.URL()] = &relayState{}
		conns = append(conns, conn)
	}
	t.pending = len(t.relays)

	go t.run(c, conns, req.Delay, req.Timeout)
	return t, nil
}

func (t *T) run(c context.T, conns []*connection.T, delay, timeout time.Duration) {
	if delay > 0 {
		select {
		case <-t.engine.clock.After(delay):
		case <-t.done:
			return // aborted within the grace period, nothing was sent
		case <-c.Done():
			t.Abort()
			return
		}
	}

	for _, conn := range conns {
		url := conn.URL()
		t.mx.Lock()
		if t.aborted {
			t.mx.Unlock()
			return
		}
		st := t.relays[url]
		st.cancelOK = conn.AwaitOK(t.Event.ID, func(ok bool, reason string) {
			if ok {
				t.resolve(url, StatusSuccess, reason)
			} else {
				t.resolve(url, StatusFailure, reason)
			}
		})
		st.timer = t.engine.clock.AfterFunc(timeout, func() {
			t.resolve(url, StatusTimeout, "")
		})
		st.unsubState = conn.Socket().OnState(func(s socket.Status) {
			if s == socket.StatusError {
				t.resolve(url, StatusFailure, "connection failed")
			}
		})
		t.mx.Unlock()

		conn := conn
		go func() {
			if err := conn.Connect(c); err != nil {
				t.resolve(url, StatusFailure, err.Error())
				return
			}
			chk.E(conn.Send(&eventenvelope.T{Event: *t.Event}))
		}()
	}
}

// resolve records a relay's final verdict; first writer wins.
func (t *T) resolve(url string, status Status, message string) {
	t.mx.Lock()
	st, have := t.relays[url]
	if !have || st.result.Status != StatusPending {
		t.mx.Unlock()
		return
	}
	st.result = Result{Status: status, Message: message}
	t.releaseLocked(st)
	t.pending--
	finished := t.pending == 0
	t.mx.Unlock()

	if finished {
		close(t.done)
	}
}

// releaseLocked drops a relay's OK registration and timer. Must be
// called with t.mx held.
func (t *T) releaseLocked(st *relayState) {
	if st.cancelOK != nil {
		st.cancelOK()
		st.cancelOK = nil
	}
	if st.unsubState != nil {
		st.unsubState()
		st.unsubState = nil
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

// Abort stops waiting for further relay responses. Entries still
// pending become Aborted; verdicts already recorded are untouched.
// Idempotent.
func (t *T) Abort() {
	t.mx.Lock()
	if t.aborted {
		t.mx.Unlock()
		return
	}
	t.aborted = true
	finished := false
	for _, st := range t.relays {
		if st.result.Status != StatusPending {
			continue
		}
		st.result = Result{Status: StatusAborted}
		t.releaseLocked(st)
		t.pending--
	}
	if t.pending == 0 {
		finished = true
	}
	t.mx.Unlock()

	if finished {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
}

// Complete is closed once every relay has resolved.
func (t *T) Complete() <-chan struct{} { return t.done }

// Result returns the verdict recorded for one relay.
func (t *T) Result(url string) Result {
	t.mx.Lock()
	defer t.mx.Unlock()
	if st, have := t.relays[url]; have {
		return st.result
	}
	return Result{}
}

// Results returns a copy of the per-relay status map.
func (t *T) Results() map[string]Result {
	t.mx.Lock()
	defer t.mx.Unlock()
	out := make(map[string]Result, len(t.relays))
	for url, st := range t.relays {
		out[url] = st.result
	}
	return out
}

// Succeeded reports whether at least one relay accepted the event.
func (t *T) Succeeded() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	for _, st := range t.relays {
		if st.result.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// Merged aggregates several publishes; it completes only when every
// constituent has, and keeps each one's own per-relay map intact.
type Merged struct {
	Thunks []*T
	done   chan struct{}
}

// Merge combines thunks into one aggregate completion.
func Merge(thunks ...*T) *Merged {
	m := &Merged{Thunks: thunks, done: make(chan struct{})}
	go func() {
		for _, t := range thunks {
			<-t.Complete()
		}
		close(m.done)
	}()
	return m
}

// Complete is closed once all constituent thunks have completed.
func (m *Merged) Complete() <-chan struct{} { return m.done }

// Abort aborts every constituent thunk.
func (m *Merged) Abort() {
	for _, t := range m.Thunks {
		t.Abort()
	}
}

// Results flattens the constituent per-relay maps; when two thunks
// share a relay the later thunk's entry wins, which callers avoid by
// merging disjoint relay sets.
func (m *Merged) Results() map[string]Result {
	out := make(map[string]Result)
	for _, t := range m.Thunks {
		for url, result := range t.Results() {
			out[url] = result
		}
	}
	return out
}
