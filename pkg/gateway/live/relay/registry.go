package relay

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle lets the rest of the gateway steer a live relay session.
type Handle struct {
	Cancel     func()
	SetPaused  func(paused bool)
	SetHandoff func(on bool)
}

// Registry maps call IDs to live relay sessions. Wait blocks until every
// registered session has unregistered, which drives graceful shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
	wg       sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*entry)}
}

// Register replaces any previous session for callID; the replaced session is
// canceled.
func (r *Registry) Register(callID uuid.UUID, h Handle) (unregister func()) {
	if r == nil {
		return func() {}
	}
	e := &entry{handle: h}

	r.mu.Lock()
	old := r.sessions[callID]
	r.sessions[callID] = e
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil && old.handle.Cancel != nil {
		old.handle.Cancel()
	}
	return func() { r.unregister(callID, e) }
}

func (r *Registry) unregister(callID uuid.UUID, e *entry) {
	e.once.Do(func() {
		r.mu.Lock()
		if r.sessions[callID] == e {
			delete(r.sessions, callID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) lookup(callID uuid.UUID) (Handle, bool) {
	if r == nil {
		return Handle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[callID]
	if !ok {
		return Handle{}, false
	}
	return e.handle, true
}

func (r *Registry) Active(callID uuid.UUID) bool {
	_, ok := r.lookup(callID)
	return ok
}

// SetPaused reports whether a live session was found.
func (r *Registry) SetPaused(callID uuid.UUID, paused bool) bool {
	h, ok := r.lookup(callID)
	if !ok || h.SetPaused == nil {
		return false
	}
	h.SetPaused(paused)
	return true
}

func (r *Registry) SetHandoff(callID uuid.UUID, on bool) bool {
	h, ok := r.lookup(callID)
	if !ok || h.SetHandoff == nil {
		return false
	}
	h.SetHandoff(on)
	return true
}

// Stop cancels the session for callID, if any.
func (r *Registry) Stop(callID uuid.UUID) bool {
	h, ok := r.lookup(callID)
	if !ok || h.Cancel == nil {
		return false
	}
	h.Cancel()
	return true
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}
	var cancels []func()
	r.mu.Lock()
	for _, e := range r.sessions {
		if e.handle.Cancel != nil {
			cancels = append(cancels, e.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
