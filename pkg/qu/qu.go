// Package qu provides empty-struct signalling channels for trigger and
// quit semantics.
package qu

// C is a basic empty struct signalling channel.
type C chan struct{}

// T creates an unbuffered chan struct{} for trigger and quit signalling
// (momentary and breaker switches).
func T() C {
	return make(C)
}

// Ts creates a buffered chan struct{} intended for signalling without
// blocking the caller.
func Ts(n int) C {
	return make(C, n)
}

// Q closes the channel, after which it emits a zero value every time it
// is selected. Calling Q twice panics, use Signal for repeated triggers.
func (c C) Q() {
	close(c)
}

// Signal sends one signal on the channel without blocking; if nothing is
// listening and the buffer is full the signal is dropped.
func (c C) Signal() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Wait returns the channel for selecting on.
func (c C) Wait() <-chan struct{} {
	return c
}
