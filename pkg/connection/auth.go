package connection

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/seinelabs/seine/pkg/nostr/envelopes/authenvelope"
	"github.com/seinelabs/seine/pkg/nostr/event"
	"github.com/seinelabs/seine/pkg/nostr/kind"
	"github.com/seinelabs/seine/pkg/nostr/tag"
	"github.com/seinelabs/seine/pkg/nostr/tags"
	"github.com/seinelabs/seine/pkg/nostr/timestamp"
)

// AuthState is the challenge/response authentication state of one
// connection.
type AuthState int32

const (
	AuthNone AuthState = iota // Unauthenticated, no challenge seen
	AuthChallenged
	AuthAuthenticating
	AuthAuthenticated
	AuthFailed
)

func (a AuthState) String() string {
	switch a {
	case AuthNone:
		return "unauthenticated"
	case AuthChallenged:
		return "challenged"
	case AuthAuthenticating:
		return "authenticating"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	}
	return "unknown"
}

// Signer fills in the pubkey, id and signature of an event. Signing is
// an external collaborator's job; the engine only calls out through this.
type Signer func(*event.T) error

// DefaultAuthTimeout is how long a challenge/response exchange may take
// before held sends are failed.
const DefaultAuthTimeout = 30 * time.Second

// Auth tracks the authentication gating of one connection. Sends that
// require auth are held in arrival order while a challenge/response
// exchange is in flight and released once Authenticated.
type Auth struct {
	mx        sync.Mutex
	state     AuthState
	challenge string
	eventID   string // id of the in-flight AUTH response event
	signer    Signer
	timeout   time.Duration
	clock     clock.Clock
	timer     *clock.Timer
	held      [][]byte

	// send pushes a frame straight onto the socket, bypassing gating
	send func(msg []byte)
}

func newAuth(signer Signer, timeout time.Duration, clk clock.Clock, send func([]byte)) *Auth {
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	return &Auth{
		signer:  signer,
		timeout: timeout,
		clock:   clk,
		send:    send,
	}
}

// State returns the current authentication state.
func (a *Auth) State() AuthState {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.state
}

// Challenge returns the most recent AUTH challenge from the relay.
func (a *Auth) Challenge() string {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.challenge
}

// onChallenge handles an AUTH envelope from the relay. With a signer
// available it immediately signs and sends the response and starts the
// failure timer; without one the connection just records the challenge.
func (a *Auth) onChallenge(url, challenge string) {
	a.mx.Lock()
	a.challenge = challenge
	if a.state == AuthAuthenticating || a.state == AuthAuthenticated {
		a.mx.Unlock()
		return
	}
	a.state = AuthChallenged
	if a.signer == nil {
		a.mx.Unlock()
		return
	}

	authEvent := &event.T{
		CreatedAt: timestamp.Now(),
		Kind:      kind.ClientAuthentication,
		Tags: tags.T{
			tag.T{"relay", url},
			tag.T{"challenge", challenge},
		},
	}
	if err := a.signer(authEvent); err != nil {
		log.E.F("{%s} error signing auth event: %v", url, err)
		a.failLocked()
		a.mx.Unlock()
		return
	}
	a.state = AuthAuthenticating
	a.eventID = authEvent.ID
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = a.clock.AfterFunc(a.timeout, a.expire)
	a.mx.Unlock()

	response, _ := authenvelope.T{Event: *authEvent}.MarshalJSON()
	a.send(response)
}

// onOK consumes an OK envelope if it acknowledges the in-flight AUTH
// response; returns true when the OK belonged to the auth exchange.
func (a *Auth) onOK(eventID string, ok bool) bool {
	a.mx.Lock()
	if a.state != AuthAuthenticating || eventID != a.eventID {
		a.mx.Unlock()
		return false
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if !ok {
		a.failLocked()
		a.mx.Unlock()
		return true
	}
	a.state = AuthAuthenticated
	held := a.held
	a.held = nil
	a.mx.Unlock()

	// release everything held back, in arrival order
	for _, msg := range held {
		a.send(msg)
	}
	return true
}

// gate either passes the frame through or holds it until the exchange
// resolves. Frames are held only while a response is actually in flight;
// a challenge with no signer to answer it must not block traffic. Held
// frames are dropped if authentication fails.
func (a *Auth) gate(msg []byte) {
	a.mx.Lock()
	if a.state == AuthAuthenticating {
		a.held = append(a.held, msg)
		a.mx.Unlock()
		return
	}
	a.mx.Unlock()
	a.send(msg)
}

func (a *Auth) expire() {
	a.mx.Lock()
	if a.state != AuthAuthenticating {
		a.mx.Unlock()
		return
	}
	a.failLocked()
	a.mx.Unlock()
}

// failLocked must be called with a.mx held.
func (a *Auth) failLocked() {
	a.state = AuthFailed
	if n := len(a.held); n > 0 {
		log.D.F("dropping %d sends held for failed auth", n)
	}
	a.held = nil
}
