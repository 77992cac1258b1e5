// Package seine assembles the engine: one pool, one repository, one
// tracker and one router, wired into subscription and publish engines
// behind a single client object. Nothing here is process global; every
// client owns its own state and shuts down cleanly.
package seine

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/seinelabs/seine/pkg/connection"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/pool"
	"github.com/seinelabs/seine/pkg/repository"
	"github.com/seinelabs/seine/pkg/router"
	"github.com/seinelabs/seine/pkg/subscription"
	"github.com/seinelabs/seine/pkg/thunk"
	"github.com/seinelabs/seine/pkg/tracker"
)

// Options configures a client. Everything is optional: a zero Options
// yields a client that can talk to explicitly named relays.
type Options struct {
	// Signer answers relay AUTH challenges; without one the client
	// stays unauthenticated everywhere.
	Signer connection.Signer
	// Router supplies relay knowledge for requests that name no relays.
	Router router.Callbacks
	// MaxConnections caps the pool; zero means unbounded.
	MaxConnections int
	// TrackerSize bounds cross-relay deduplication state.
	TrackerSize int
	// AuthTimeout bounds each connection's auth exchange.
	AuthTimeout time.Duration
	// NoticeHandler receives relay NOTICE messages.
	NoticeHandler connection.NoticeFunc
	// Clock substitutes the timer source, for tests.
	Clock clock.Clock
}

// Client is one running engine instance.
type Client struct {
	Pool       *pool.P
	Repository *repository.T
	Tracker    *tracker.T
	Router     *router.R

	subs *subscription.Engine
	pubs *thunk.Engine
}

// New assembles a client.
func New(o Options) *Client {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	rtr := router.New(o.Router)
	repo := repository.New()
	track := tracker.New(o.TrackerSize)

	var connOpts []connection.Option
	if o.Signer != nil {
		connOpts = append(connOpts, connection.WithSigner(o.Signer))
	}
	if o.AuthTimeout > 0 {
		connOpts = append(connOpts, connection.WithAuthTimeout(o.AuthTimeout))
	}
	if o.NoticeHandler != nil {
		connOpts = append(connOpts, connection.WithNoticeHandler(o.NoticeHandler))
	}
	connOpts = append(connOpts, connection.WithClock(o.Clock))
	p := pool.NewWithConnectionOptions(connOpts,
		pool.WithMaxConnections(o.MaxConnections))

	c := &Client{
		Pool:       p,
		Repository: repo,
		Tracker:    track,
		Router:     rtr,
	}
	c.subs = subscription.NewEngine(subscription.Options{
		Pool:       p,
		Repository: repo,
		Tracker:    track,
		Selector:   c.selectReadRelays,
		Clock:      o.Clock,
	})
	c.pubs = thunk.NewEngine(thunk.Options{
		Pool:       p,
		Repository: repo,
		Selector:   c.selectPublishRelays,
		Clock:      o.Clock,
	})
	return c
}

// Close tears down every connection. The repository and tracker keep
// their contents; a closed client must not be reused.
func (c *Client) Close() {
	c.Pool.Close()
}

// Subscribe opens a logical subscription across relays.
func (c *Client) Subscribe(ctx context.T, req subscription.Request) (*subscription.Subscription, error) {
	return c.subs.Subscribe(ctx, req)
}

// Load gathers everything matching the request and returns once every
// relay has finished.
func (c *Client) Load(ctx context.T, req subscription.Request) ([]*event.T, error) {
	return c.subs.Load(ctx, req)
}

// Publish sends an event to its target relays with per-relay
// acknowledgement tracking.
func (c *Client) Publish(ctx context.T, req thunk.Request) (*thunk.T, error) {
	return c.pubs.Publish(ctx, req)
}

// PublishAll publishes several events and merges their acknowledgement
// tracking into one aggregate.
func (c *Client) PublishAll(ctx context.T, reqs []thunk.Request) (*thunk.Merged, error) {
	thunks := make([]*thunk.T, 0, len(reqs))
	for _, req := range reqs {
		t, err := c.pubs.Publish(ctx, req)
		if err != nil {
			for _, started := range thunks {
				started.Abort()
			}
			return nil, err
		}
		thunks = append(thunks, t)
	}
	return thunk.Merge(thunks...), nil
}

// selectReadRelays backs the subscription engine's relay selection: the
// read relays of every author the filters name, or the router's
// fallbacks when the filters name nobody.
func (c *Client) selectReadRelays(fs filters.T) []string {
	scenario := c.Router.Scenario()
	for _, f := range fs {
		for _, author := range f.Authors {
			scenario.Add(c.Router.ForUser(author).GetURLs(), 1)
		}
	}
	return scenario.GetURLs()
}

func (c *Client) selectPublishRelays(ev *event.T) []string {
	return c.Router.ForPublish(ev).GetURLs()
}

// DVMRequest asks a data vending machine network for computed results:
// the signed job request event is published and the matching job result
// and feedback events are streamed back.
type DVMRequest struct {
	Request    *event.T // a signed job request (kind 5000..5999)
	Relays     []string
	Timeout    time.Duration
	OnResult   func(ev *event.T)
	OnComplete func()
}

// RequestDVM publishes a job request and subscribes to its responses.
// The subscription stays open until the timeout so multiple results and
// feedback events can stream in; closing it cancels the job watch.
func (c *Client) RequestDVM(ctx context.T, req DVMRequest) (*subscription.Subscription, *thunk.T, error) {
	if req.Request == nil || !req.Request.Kind.IsJobRequest() {
		return nil, nil, fmt.Errorf("a job request event of kind 5000..5999 is required")
	}
	resultKind := req.Request.Kind + 1000

	sub, err := c.Subscribe(ctx, subscription.Request{
		Filters: filters.T{{
			Kinds: []kind.T{resultKind, kind.JobFeedback},
			Tags:  filter.TagMap{"e": {req.Request.ID}},
		}},
		Relays:      req.Relays,
		CloseOnEose: false,
		Timeout:     req.Timeout,
		OnEvent:     req.OnResult,
		OnComplete:  req.OnComplete,
	})
	if err != nil {
		return nil, nil, err
	}

	th, err := c.Publish(ctx, thunk.Request{
		Event:  req.Request,
		Relays: req.Relays,
	})
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	return sub, th, nil
}
