// Package lifecycle holds the gateway's process state: whether it is
// draining for shutdown and how many turns are still being answered.
package lifecycle

import "sync/atomic"

// Lifecycle is shared by the turn handler, the readiness probe and main.
// A nil *Lifecycle is valid and reports an idle, non-draining process.
type Lifecycle struct {
	draining atomic.Bool
	turns    atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// BeginTurn counts a turn as in flight until end is called. end may be
// called more than once.
func (l *Lifecycle) BeginTurn() (end func()) {
	if l == nil {
		return func() {}
	}
	l.turns.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.turns.Add(-1)
		}
	}
}

// InFlightTurns counts turns between BeginTurn and end, relay included.
func (l *Lifecycle) InFlightTurns() int64 {
	if l == nil {
		return 0
	}
	return l.turns.Load()
}
