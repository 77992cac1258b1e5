// Package connection binds a socket to the protocol: it routes inbound
// envelopes to per-subscription handlers and per-event OK callbacks, and
// runs the challenge/response authentication exchange for its relay.
package connection

import (
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/envelopes"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/authenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/closedenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eoseenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/eventenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/noticeenvelope"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/okenvelope"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/slog"
	"github.com/seinelabs/seine/pkg/socket"
	"go.uber.org/atomic"
)

var log, chk = slog.New(os.Stderr)

// SubHandler receives the messages addressed to one subscription id.
// Nil members are skipped.
type SubHandler struct {
	OnEvent  func(ev *event.T)
	OnEose   func()
	OnClosed func(reason string)
}

// OKFunc receives a relay's verdict on one published event.
type OKFunc func(ok bool, reason string)

// NoticeFunc receives relay NOTICE messages.
type NoticeFunc func(msg string)

// T is one relay connection.
type T struct {
	url  string
	sock socket.S
	auth *Auth

	subs    *xsync.MapOf[string, SubHandler]
	oks     *xsync.MapOf[string, OKFunc]
	notices NoticeFunc

	opens    atomic.Int64
	errors   atomic.Int64
	received atomic.Int64
	lastUsed atomic.Int64 // unix nanos

	unsubMsg   func()
	unsubState func()
}

type config struct {
	sock        socket.S
	signer      Signer
	authTimeout time.Duration
	clock       clock.Clock
	notices     NoticeFunc
}

// Option configures a connection.
type Option func(*config)

// WithSocket substitutes the transport socket.
func WithSocket(s socket.S) Option { return func(c *config) { c.sock = s } }

// WithSigner enables automatic responses to AUTH challenges.
func WithSigner(s Signer) Option { return func(c *config) { c.signer = s } }

// WithAuthTimeout overrides the challenge/response deadline.
func WithAuthTimeout(d time.Duration) Option { return func(c *config) { c.authTimeout = d } }

// WithClock substitutes the timer source, for tests.
func WithClock(clk clock.Clock) Option { return func(c *config) { c.clock = clk } }

// WithNoticeHandler receives relay NOTICE messages.
func WithNoticeHandler(fn NoticeFunc) Option { return func(c *config) { c.notices = fn } }

// New creates a connection to a relay URL. No I/O happens until Connect.
func New(url string, opts ...Option) *T {
	cfg := config{clock: clock.New()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sock == nil {
		cfg.sock = socket.New(url)
	}
	c := &T{
		url:     url,
		sock:    cfg.sock,
		subs:    xsync.NewMapOf[SubHandler](),
		oks:     xsync.NewMapOf[OKFunc](),
		notices: cfg.notices,
	}
	c.auth = newAuth(cfg.signer, cfg.authTimeout, cfg.clock, c.sock.Send)
	c.unsubMsg = c.sock.OnMessage(c.route)
	c.unsubState = c.sock.OnState(func(st socket.Status) {
		switch st {
		case socket.StatusOpen:
			c.opens.Add(1)
		case socket.StatusError:
			c.errors.Add(1)
		}
	})
	c.Touch()
	return c
}

func (c *T) URL() string      { return c.url }
func (c *T) Socket() socket.S { return c.sock }
func (c *T) Auth() *Auth      { return c.auth }

// Connect opens the underlying socket. Idempotent while connecting or
// open.
func (c *T) Connect(ctx context.T) error {
	c.Touch()
	return c.sock.Open(ctx)
}

// Close tears down the connection. Registered handlers are dropped.
func (c *T) Close() error {
	c.unsubMsg()
	c.unsubState()
	c.subs.Clear()
	c.oks.Clear()
	return c.sock.Close()
}

// Send marshals an envelope onto the wire. While an authentication
// exchange is in flight the frame is held and released once the relay
// accepts the response.
func (c *T) Send(env envelopes.E) error {
	msg, err := env.MarshalJSON()
	if chk.E(err) {
		return err
	}
	c.Touch()
	c.auth.gate(msg)
	return nil
}

// Subscribe routes EVENT, EOSE and CLOSED messages carrying the given
// subscription id to h until the returned function is called.
func (c *T) Subscribe(id string, h SubHandler) (unsub func()) {
	c.subs.Store(id, h)
	c.Touch()
	return func() { c.subs.Delete(id) }
}

// AwaitOK routes the relay's OK verdict for the given event id to fn
// until the returned function is called.
func (c *T) AwaitOK(eventID string, fn OKFunc) (cancel func()) {
	c.oks.Store(eventID, fn)
	c.Touch()
	return func() { c.oks.Delete(eventID) }
}

// Busy reports whether the connection has live subscriptions or publishes
// awaiting acknowledgement. Busy connections are never evicted.
func (c *T) Busy() bool {
	return c.subs.Size() > 0 || c.oks.Size() > 0
}

// Touch records use, for least-recently-used eviction ordering.
func (c *T) Touch() { c.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed returns the time of last use.
func (c *T) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

// Received returns the count of events received over this connection.
func (c *T) Received() int64 { return c.received.Load() }

// Errors returns the count of socket failures on this connection.
func (c *T) Errors() int64 { return c.errors.Load() }

func (c *T) route(env envelopes.E) {
	switch env := env.(type) {
	case *eventenvelope.T:
		c.received.Add(1)
		if env.SubscriptionID == nil {
			return
		}
		if h, ok := c.subs.Load(*env.SubscriptionID); ok && h.OnEvent != nil {
			h.OnEvent(&env.Event)
		}
	case *eoseenvelope.T:
		if h, ok := c.subs.Load(string(*env)); ok && h.OnEose != nil {
			h.OnEose()
		}
	case *closedenvelope.T:
		if h, ok := c.subs.Load(env.SubscriptionID); ok && h.OnClosed != nil {
			h.OnClosed(env.Reason)
		}
	case *okenvelope.T:
		// the auth exchange gets first claim on OK verdicts
		if c.auth.onOK(env.EventID, env.OK) {
			return
		}
		if fn, ok := c.oks.Load(env.EventID); ok {
			fn(env.OK, env.Reason)
		}
	case *authenvelope.T:
		if env.Challenge != nil {
			c.auth.onChallenge(c.url, *env.Challenge)
		}
	case *noticeenvelope.T:
		log.I.F("{%s} NOTICE: %s", c.url, string(*env))
		if c.notices != nil {
			c.notices(string(*env))
		}
	}
}
