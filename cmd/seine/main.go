// Command seine streams events from a set of relays to stdout, one JSON
// event per line. It is a thin front end over the engine: handy for
// watching a relay firehose, pulling a pubkey's backlog, or smoke
// testing relay connectivity.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/seinelabs/seine/pkg/context"
	"github.com/seinelabs/seine/pkg/interrupt"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/filter"
	"github.com/seinelabs/seine/pkg/nostr/filters"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
	"github.com/seinelabs/seine/pkg/qu"
	"github.com/seinelabs/seine/pkg/seine"
	"github.com/seinelabs/seine/pkg/slog"
	"github.com/seinelabs/seine/pkg/subscription"
)

var log, chk = slog.New(os.Stderr)

type Config struct {
	Relays  []string `arg:"positional,required" help:"relay URLs to subscribe to"`
	Authors []string `arg:"-a,--author,separate" help:"hex pubkey to filter by, repeatable"`
	Kinds   []int    `arg:"-k,--kind,separate" help:"event kind to filter by, repeatable"`
	Since   int64    `arg:"--since" help:"unix timestamp lower bound"`
	Limit   int      `arg:"-l,--limit" help:"ask each relay for at most this many stored events"`
	Stored  bool     `arg:"-s,--stored" help:"exit once stored events are delivered instead of streaming live"`
	Timeout int      `arg:"-t,--timeout" default:"30" help:"seconds to wait on each relay in --stored mode"`
}

func (Config) Description() string {
	return "stream events from relays to stdout as JSON lines"
}

func main() {
	var cfg Config
	arg.MustParse(&cfg)

	f := filter.T{Limit: cfg.Limit}
	for _, author := range cfg.Authors {
		f.Authors = append(f.Authors, author)
	}
	for _, k := range cfg.Kinds {
		f.Kinds = append(f.Kinds, kind.T(k))
	}
	if cfg.Since > 0 {
		since := timestamp.T(cfg.Since)
		f.Since = &since
	}

	client := seine.New(seine.Options{})
	ctx, cancel := context.Cancel(context.Bg())
	interrupt.AddHandler(func() {
		cancel()
		client.Close()
	})

	done := qu.Ts(1)
	sub, err := client.Subscribe(ctx, subscription.Request{
		Filters:     filters.T{f},
		Relays:      cfg.Relays,
		CloseOnEose: cfg.Stored,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		OnEvent: func(ev *event.T) {
			j, e := ev.MarshalJSON()
			if chk.E(e) {
				return
			}
			fmt.Println(string(j))
		},
		OnComplete: func() { done.Signal() },
	})
	if chk.E(err) {
		os.Exit(1)
	}
	go func() {
		for e := range sub.Errors() {
			log.D.Ln(e.Error())
		}
	}()

	select {
	case <-done.Wait():
	case <-interrupt.HandlersDone.Wait():
	}
	sub.Close()
	client.Close()
}
