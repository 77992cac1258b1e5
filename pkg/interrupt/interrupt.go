// Package interrupt runs registered callbacks in LIFO order when the
// process receives an interrupt signal or an explicit shutdown request.
package interrupt

import (
	"os"
	"os/signal"
	"sync"

	"github.com/seinelabs/seine/pkg/qu"
	"github.com/seinelabs/seine/pkg/slog"
)

var log = slog.GetStd()

var (
	mx        sync.Mutex
	callbacks []func()
	started   bool

	// ShutdownRequest can be Q'd to trigger the handlers without a signal.
	ShutdownRequest = qu.T()

	// HandlersDone is closed after all handlers have run.
	HandlersDone = qu.T()
)

// AddHandler adds a handler to call when an interrupt is received. The
// listener goroutine is started on first use.
func AddHandler(handler func()) {
	mx.Lock()
	defer mx.Unlock()
	callbacks = append(callbacks, handler)
	if !started {
		started = true
		go listen()
	}
}

func listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	select {
	case sig := <-ch:
		log.D.Ln("received signal", sig)
	case <-ShutdownRequest.Wait():
		log.D.Ln("received shutdown request")
	}
	invoke()
}

func invoke() {
	mx.Lock()
	defer mx.Unlock()
	// LIFO order, so later registrations tear down first
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
	callbacks = callbacks[:0]
	HandlersDone.Q()
}
