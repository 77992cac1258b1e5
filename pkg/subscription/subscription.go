// Package subscription merges wire subscriptions across relays into one
// logical stream: local cache shortcut, one REQ per relay under a shared
// id, cross-relay deduplication, repository write-through and exactly
// once completion.
package subscription

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/seinelabs/seine/pkg/connection"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/closeenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/reqenvelope"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/seinelabs/seine/pkg/pool"
	"github.com/seinelabs/seine/pkg/repository"
	"github.com/seinelabs/seine/pkg/slog"
	"github.com/seinelabs/seine/pkg/socket"
	"github.com/seinelabs/seine/pkg/tracker"
	"lukechampine.com/frand"
)

var log, chk = slog.New(os.Stderr)

const (
	// DefaultTimeout bounds how long a relay may take to finish a
	// close-on-EOSE subscription.
	DefaultTimeout = 30 * time.Second
	// DefaultAuthTimeout is the extra window granted to a relay that
	// demands authentication before serving the request.
	DefaultAuthTimeout = 30 * time.Second
)

// ErrNoRelays is returned when neither the request nor the engine's
// relay selector yields a target relay.
var ErrNoRelays = fmt.Errorf("no relays to subscribe on")

// RelaySelector fills in target relays for requests that do not name
// any; typically backed by a router scenario.
type RelaySelector func(fs filters.T) []string

// Options wires an engine's collaborators. Nil members get fresh
// defaults, which is convenient in tests but real use shares one pool,
// repository and tracker per client.
type Options struct {
	Pool       *pool.P
	Repository *repository.T
	Tracker    *tracker.T
	Selector   RelaySelector
	Clock      clock.Clock
}

// Engine opens and manages logical subscriptions.
type Engine struct {
	pool     *pool.P
	repo     *repository.T
	track    *tracker.T
	selector RelaySelector
	clock    clock.Clock
}

// NewEngine creates a subscription engine.
func NewEngine(o Options) *Engine {
	if o.Pool == nil {
		o.Pool = pool.New()
	}
	if o.Repository == nil {
		o.Repository = repository.New()
	}
	if o.Tracker == nil {
		o.Tracker = tracker.New(0)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return &Engine{
		pool:     o.Pool,
		repo:     o.Repository,
		track:    o.Tracker,
		selector: o.Selector,
		clock:    o.Clock,
	}
}

// Request describes one logical subscription.
type Request struct {
	Filters     filters.T
	Relays      []string // filled by the engine's selector when empty
	CloseOnEose bool
	Timeout     time.Duration // per relay, from subscription start
	AuthTimeout time.Duration // extra window after an auth-required rejection
	OnEvent     func(ev *event.T)
	OnComplete  func()
}

// Subscription is one live logical subscription.
type Subscription struct {
	ID string

	engine     *Engine
	request    Request
	netFilters filters.T // what actually went on the wire

	mx        sync.Mutex
	relays    map[string]*relayState
	remaining int  // relays not yet done, plus one for local delivery
	completed bool // OnComplete has fired
	closed    bool
	seen      map[string]struct{} // ids delivered to OnEvent
	errs      chan error
}

type relayState struct {
	conn       *connection.T
	done       bool
	authRetry  bool
	timer      *clock.Timer
	unsubConn  func()
	unsubState func()
}

// Subscribe validates the request, serves what it can from the
// repository, and opens one wire subscription per remaining relay under
// a shared id. Handler delivery starts only after Subscribe returns.
func (e *Engine) Subscribe(c context.T, req Request) (*Subscription, error) {
	if len(req.Filters) == 0 {
		return nil, fmt.Errorf("subscribe needs at least one filter")
	}
	if req.Timeout == 0 && req.CloseOnEose {
		req.Timeout = DefaultTimeout
	}
	if req.AuthTimeout == 0 {
		req.AuthTimeout = DefaultAuthTimeout
	}

	// Local shortcut: a filter whose result cardinality is statically
	// bounded serves what the cache has up front, and never goes on the
	// wire at all once the bound is met.
	var local []*event.T
	netFilters := make(filters.T, 0, len(req.Filters))
	for _, f := range req.Filters {
		bound := f.CardinalityBound()
		if bound > 0 {
			cached := e.repo.Query(filters.T{f})
			local = append(local, cached...)
			if len(cached) >= bound {
				continue
			}
		}
		netFilters = append(netFilters, f)
	}

	relayURLs := req.Relays
	if len(netFilters) > 0 && len(relayURLs) == 0 && e.selector != nil {
		relayURLs = e.selector(netFilters)
	}
	if len(netFilters) > 0 && len(relayURLs) == 0 {
		return nil, ErrNoRelays
	}
	if len(netFilters) == 0 {
		relayURLs = nil
	}

	sub := &Subscription{
		ID:         fmt.Sprintf("%x", frand.Bytes(8)),
		engine:     e,
		request:    req,
		netFilters: netFilters,
		relays:     make(map[string]*relayState, len(relayURLs)),
		seen:       make(map[string]struct{}),
	}

	// the pool normalizes URLs, so different spellings of one relay
	// collapse here; remaining must count the deduplicated set
	for _, url := range relayURLs {
		conn := e.pool.Get(url)
		if _, dup := sub.relays[conn.URL()]; dup {
			continue
		}
		sub.relays[conn.URL()] = &relayState{conn: conn}
	}
	sub.remaining = len(sub.relays) + 1 // +1: local delivery below
	sub.errs = make(chan error, len(sub.relays)+1)
	for url, st := range sub.relays {
		url, st := url, st
		st.unsubConn = st.conn.Subscribe(sub.ID, connection.SubHandler{
			OnEvent:  func(ev *event.T) { sub.intake(url, ev) },
			OnEose:   func() { sub.onEose(url) },
			OnClosed: func(reason string) { sub.onClosed(url, reason) },
		})
		st.unsubState = st.conn.Socket().OnState(func(s socket.Status) {
			if s == socket.StatusError {
				sub.markDone(url, fmt.Errorf("connection to %s failed", url))
			}
		})
		if req.Timeout > 0 {
			st.timer = e.clock.AfterFunc(req.Timeout, func() {
				sub.markDone(url, fmt.Errorf("subscription timed out on %s", url))
			})
		}

		go func() {
			if err := st.conn.Connect(c); err != nil {
				sub.markDone(url, err)
				return
			}
			chk.E(st.conn.Send(&reqenvelope.T{
				SubscriptionID: sub.ID,
				Filters:        netFilters,
			}))
		}()
	}

	// deliver cached results asynchronously so the caller holds the
	// subscription before its handlers run
	go func() {
		for _, ev := range local {
			sub.deliver(ev)
		}
		sub.markDone("", nil)
	}()

	return sub, nil
}

// Load runs a close-on-EOSE subscription to completion and returns the
// accumulated events, in arrival order. It returns early with the
// events gathered so far if the context expires first.
func (e *Engine) Load(c context.T, req Request) ([]*event.T, error) {
	var mx sync.Mutex
	var evs []*event.T
	done := make(chan struct{})

	req.CloseOnEose = true
	userEvent, userComplete := req.OnEvent, req.OnComplete
	req.OnEvent = func(ev *event.T) {
		mx.Lock()
		evs = append(evs, ev)
		mx.Unlock()
		if userEvent != nil {
			userEvent(ev)
		}
	}
	req.OnComplete = func() {
		if userComplete != nil {
			userComplete()
		}
		close(done)
	}

	sub, err := e.Subscribe(c, req)
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
	case <-c.Done():
		sub.Close()
		<-done
	}
	mx.Lock()
	defer mx.Unlock()
	return evs, nil
}

// Errors reports per-relay failures. Failures never abort the
// subscription as a whole; they only count the relay as done. The
// channel is closed at teardown, after any buffered failures.
func (s *Subscription) Errors() <-chan error { return s.errs }

// Close cancels the subscription: a CLOSE goes to every relay still
// serving it and all handlers are unregistered. Idempotent. OnComplete
// fires if it has not already.
func (s *Subscription) Close() {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	fireComplete := !s.completed
	s.completed = true
	s.teardownLocked()
	s.mx.Unlock()

	if fireComplete && s.request.OnComplete != nil {
		s.request.OnComplete()
	}
}

// teardownLocked stops timers, closes wire subscriptions and drops
// handler registrations. Runs at most once, with s.mx held: both
// callers set closed first, which keeps any later markDone from
// sending on the errs channel after it is closed here.
func (s *Subscription) teardownLocked() {
	for _, st := range s.relays {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.unsubConn()
		st.unsubState()
		chk.E(st.conn.Send(closeenvelope.New(s.ID)))
	}
	close(s.errs)
}

// intake handles one EVENT from one relay: global dedup via the
// tracker, write-through to the repository, then at most one delivery
// per id to the caller.
func (s *Subscription) intake(url string, ev *event.T) {
	firstSeen := s.engine.track.Track(ev.ID, url)
	if !firstSeen {
		return
	}
	if _, err := s.engine.repo.Publish(ev); err != nil {
		log.D.F("{%s} dropping malformed event %s: %v", url, ev.ID, err)
		return
	}
	s.deliver(ev)
}

func (s *Subscription) deliver(ev *event.T) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	if _, dup := s.seen[ev.ID]; dup {
		s.mx.Unlock()
		return
	}
	s.seen[ev.ID] = struct{}{}
	s.mx.Unlock()

	if s.request.OnEvent != nil {
		s.request.OnEvent(ev)
	}
}

func (s *Subscription) onEose(url string) {
	if s.request.CloseOnEose {
		s.markDone(url, nil)
	}
}

// onClosed handles a relay-side CLOSED. An auth-required rejection gets
// one retry: the REQ is queued behind the connection's auth exchange and
// the relay's clock restarts with the auth timeout.
func (s *Subscription) onClosed(url, reason string) {
	if strings.HasPrefix(reason, "auth-required:") {
		s.mx.Lock()
		st, have := s.relays[url]
		if have && !st.done && !st.authRetry && !s.closed {
			st.authRetry = true
			conn := st.conn
			// the relay gets a fresh deadline for the auth exchange
			if st.timer != nil {
				st.timer.Stop()
			}
			st.timer = s.engine.clock.AfterFunc(s.request.AuthTimeout, func() {
				s.markDone(url, fmt.Errorf("authentication to %s timed out", url))
			})
			s.mx.Unlock()
			chk.E(conn.Send(&reqenvelope.T{
				SubscriptionID: s.ID,
				Filters:        s.netFilters,
			}))
			return
		}
		s.mx.Unlock()
	}
	s.markDone(url, fmt.Errorf("subscription closed by %s: %s", url, reason))
}

// markDone counts a relay (or the local delivery pass, url "") as
// finished. When every unit is done and the subscription closes on
// EOSE, OnComplete fires exactly once and the wire subscriptions are
// torn down.
func (s *Subscription) markDone(url string, err error) {
	s.mx.Lock()
	if s.closed || s.completed {
		s.mx.Unlock()
		return
	}
	if url != "" {
		st, have := s.relays[url]
		if !have || st.done {
			s.mx.Unlock()
			return
		}
		st.done = true
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	s.remaining--
	if err != nil {
		select {
		case s.errs <- err:
		default:
		}
	}
	// a subscription that keeps no live relay is over either way: with
	// closeOnEose this is the EOSE/error/timeout count reaching zero,
	// without it every relay has failed or timed out
	finished := s.remaining == 0
	if finished {
		s.completed = true
		s.closed = true
		s.teardownLocked()
	}
	s.mx.Unlock()

	if finished && s.request.OnComplete != nil {
		s.request.OnComplete()
	}
}
