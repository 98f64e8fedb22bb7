package pipeline

import (
	"context"
	"sync/atomic"
)

// liveness is the shared "keep running" flag of a session. Clearing it
// cancels the session context so blocked stages wake up.
type liveness struct {
	alive  atomic.Bool
	cancel context.CancelCauseFunc
}

func newLiveness(parent context.Context) (*liveness, context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	l := &liveness{cancel: cancel}
	l.alive.Store(true)
	return l, ctx
}

// Alive reports whether the session should keep running.
func (l *liveness) Alive() bool {
	return l.alive.Load()
}

// Stop clears the flag. The first cause wins; nil means a normal stop.
func (l *liveness) Stop(cause error) {
	l.alive.Store(false)
	l.cancel(cause)
}
