// Package pool keeps at most one connection per relay URL. Connections
// are created lazily and never dial until something uses them; when a
// ceiling is configured the least recently used idle connection makes
// room for new ones.
package pool

import (
	"os"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/seinelabs/seine/pkg/connection"
	"github.com/seinelabs/seine/pkg/normalize"
	"github.com/seinelabs/seine/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

// Factory creates the connection for a relay URL. Tests substitute one
// that injects fake sockets.
type Factory func(url string) *connection.T

// P is a keyed set of relay connections.
type P struct {
	mx      sync.Mutex
	conns   *xsync.MapOf[string, *connection.T]
	factory Factory
	max     int
}

// Option configures a pool.
type Option func(*P)

// WithFactory substitutes the connection constructor.
func WithFactory(f Factory) Option { return func(p *P) { p.factory = f } }

// WithMaxConnections caps the pool size. Zero means unbounded. Busy
// connections are never evicted; if every connection is busy the pool
// grows past the cap rather than cutting live traffic.
func WithMaxConnections(n int) Option { return func(p *P) { p.max = n } }

// New creates an empty pool.
func New(opts ...Option) *P {
	p := &P{
		conns: xsync.NewMapOf[*connection.T](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.factory == nil {
		p.factory = func(url string) *connection.T {
			return connection.New(url)
		}
	}
	return p
}

// NewWithConnectionOptions creates a pool whose factory forwards the
// given options to every connection it creates.
func NewWithConnectionOptions(connOpts []connection.Option, opts ...Option) *P {
	opts = append([]Option{WithFactory(func(url string) *connection.T {
		return connection.New(url, connOpts...)
	})}, opts...)
	return New(opts...)
}

// Get returns the connection for a URL, creating it if needed. The URL
// is normalized first, so Get("RELAY.example/") and
// Get("wss://relay.example") share one connection. No I/O happens here.
func (p *P) Get(url string) *connection.T {
	url = normalize.URL(url)
	if c, ok := p.conns.Load(url); ok {
		c.Touch()
		return c
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if c, ok := p.conns.Load(url); ok {
		c.Touch()
		return c
	}
	if p.max > 0 && p.conns.Size() >= p.max {
		p.evictLocked()
	}
	c := p.factory(url)
	p.conns.Store(url, c)
	return c
}

// Has reports whether a connection exists for the URL without creating
// one.
func (p *P) Has(url string) bool {
	_, ok := p.conns.Load(normalize.URL(url))
	return ok
}

// Remove closes and drops the connection for a URL, if any.
func (p *P) Remove(url string) {
	url = normalize.URL(url)
	if c, ok := p.conns.LoadAndDelete(url); ok {
		chk.D(c.Close())
	}
}

// Size returns the number of connections in the pool.
func (p *P) Size() int { return p.conns.Size() }

// URLs returns the relay URLs currently held.
func (p *P) URLs() []string {
	urls := make([]string, 0, p.conns.Size())
	p.conns.Range(func(url string, _ *connection.T) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}

// Range calls fn for every connection until it returns false.
func (p *P) Range(fn func(url string, c *connection.T) bool) {
	p.conns.Range(fn)
}

// Close tears down every connection and empties the pool.
func (p *P) Close() {
	p.conns.Range(func(url string, c *connection.T) bool {
		chk.D(c.Close())
		p.conns.Delete(url)
		return true
	})
}

// evictLocked drops the least recently used connection that has no live
// subscriptions or pending publishes. Must be called with p.mx held.
func (p *P) evictLocked() {
	var victim *connection.T
	var victimURL string
	p.conns.Range(func(url string, c *connection.T) bool {
		if c.Busy() {
			return true
		}
		if victim == nil || c.LastUsed().Before(victim.LastUsed()) {
			victim, victimURL = c, url
		}
		return true
	})
	if victim == nil {
		log.D.Ln("pool over capacity but every connection is busy")
		return
	}
	log.D.F("evicting idle connection to %s", victimURL)
	p.conns.Delete(victimURL)
	chk.D(victim.Close())
}
