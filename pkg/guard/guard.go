package guard

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when a guarded entry point is re-entered
// before the outer call has completed.
var ErrReentrantCall = errors.New("reentrant call rejected")

// Guard provides per-instance mutual exclusion for mutating entry points.
// Unlike a mutex it does not queue: a call arriving while the guard is held
// is rejected outright, which is the required behavior when the inner call
// was triggered by a callback from the outer one.
type Guard struct {
	held atomic.Bool
}

// Acquire takes the guard and returns its release function. The release
// function must be deferred immediately so the guard is dropped on every
// exit path, including error returns and panics.
func (g *Guard) Acquire() (func(), error) {
	if !g.held.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.held.Store(false) }, nil
}

// Held reports whether the guard is currently taken.
func (g *Guard) Held() bool {
	return g.held.Load()
}
