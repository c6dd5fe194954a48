package proctor

import (
	"sync"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Registry tracks the live controller of each user. A user has at most one
// live session; Terminal sessions may be replaced.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Controller)}
}

// Acquire registers c for userID, failing with ErrSessionActive if another
// live controller is registered.
func (r *Registry) Acquire(userID string, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[userID]; ok && existing != c {
		if existing.Status() != model.SessionStatusTerminal {
			return ErrSessionActive
		}
	}
	r.sessions[userID] = c
	return nil
}

// Release unregisters c. It is a no-op if userID is held by another controller.
func (r *Registry) Release(userID string, c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[userID]; ok && existing == c {
		delete(r.sessions, userID)
	}
}

// Get returns the controller registered for userID.
func (r *Registry) Get(userID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[userID]
	return c, ok
}

// Len returns the number of registered controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every registered controller. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.sessions = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
