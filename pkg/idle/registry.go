package idle

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Owner identifies the session a controller belongs to.
type Owner struct {
	SessionID string
	UserID    string
	ExpiresAt time.Time
}

// Factory builds the controller for a new session.
type Factory func(owner Owner) *Controller

type registryEntry struct {
	controller *Controller
	owner      Owner
}

// Registry keeps one controller per session id. A controller is forgotten
// once it has signed its session out, and Sweep drops the ones whose
// session token has expired.
type Registry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
	factory Factory
	clock   clockwork.Clock
	every   time.Duration
	stop    chan struct{}
	once    sync.Once
}

type RegistryOption func(*Registry)

func WithRegistryClock(clock clockwork.Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithSweepEvery runs Sweep in the background at the given interval. Call
// Close to stop it.
func WithSweepEvery(interval time.Duration) RegistryOption {
	return func(r *Registry) {
		r.every = interval
	}
}

func NewRegistry(factory Factory, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]registryEntry),
		factory: factory,
		clock:   clockwork.NewRealClock(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.every > 0 {
		go r.sweep()
	}
	return r
}

// Get returns the controller for the owner's session, creating it on first use.
func (r *Registry) Get(owner Owner) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[owner.SessionID]
	if !ok {
		c := r.factory(owner)
		c.setOnExpired(func() { r.forget(owner.SessionID, c) })
		e = registryEntry{controller: c, owner: owner}
		r.entries[owner.SessionID] = e
	}
	return e.controller
}

// Lookup returns the controller for sessionID without creating one.
func (r *Registry) Lookup(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	return e.controller, ok
}

// End tears down and forgets the controller for sessionID.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if ok {
		e.controller.Teardown()
	}
}

// forget drops c without tearing it down, so it stays Expired for anyone
// still holding it. A newer controller under the same id is left alone.
func (r *Registry) forget(sessionID string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok && e.controller == c {
		delete(r.entries, sessionID)
	}
}

// Sweep tears down controllers whose session token has expired and returns
// how many were removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	var stale []*Controller
	for id, e := range r.entries {
		if !e.owner.ExpiresAt.IsZero() && !now.Before(e.owner.ExpiresAt) {
			stale = append(stale, e.controller)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Teardown()
	}
	return len(stale)
}

func (r *Registry) sweep() {
	ticker := r.clock.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}

// Close stops the background sweep.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
