package lifecycle

import (
	"sync"
	"sync/atomic"
)

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It is used for readiness draining during graceful shutdown; new relay and
// event sessions are refused once draining starts.
type Lifecycle struct {
	draining atomic.Bool

	once sync.Once
	ch   chan struct{}
}

func (l *Lifecycle) init() {
	l.once.Do(func() { l.ch = make(chan struct{}) })
}

// SetDraining flips the draining flag. The Draining channel closes on the
// first transition to true and stays closed.
func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.init()
	if draining && !l.draining.Swap(true) {
		close(l.ch)
		return
	}
	if !draining {
		l.draining.Store(false)
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Draining is closed once the process starts shutting down.
func (l *Lifecycle) Draining() <-chan struct{} {
	if l == nil {
		return nil
	}
	l.init()
	return l.ch
}
