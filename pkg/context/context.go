// Package context is a set of shorter names for the very stretched out
// names in the standard library context package.
package context

import (
	"context"
)

type (
	T = context.Context
	F = context.CancelFunc
	C = context.CancelCauseFunc
)

var (
	Bg           = context.Background
	Cancel       = context.WithCancel
	Timeout      = context.WithTimeout
	TimeoutCause = context.WithTimeoutCause
	TODO         = context.TODO
	Value        = context.WithValue
	CancelCause  = context.WithCancelCause
	Canceled     = context.Canceled
)
