package ws

import "sync"

// Registry tracks live consumers per session. Every consume connection owns
// its broker subscription, so there is no broadcast fan-out here; the
// registry exists so health reporting can expose active-consumer counts and
// tests can assert that disconnects release their slots.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]int)}
}

// Add records one consumer on a session and returns a release function.
// The release is idempotent.
func (r *Registry) Add(sessionID string) func() {
	r.mu.Lock()
	r.sessions[sessionID]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if n := r.sessions[sessionID]; n <= 1 {
				delete(r.sessions, sessionID)
			} else {
				r.sessions[sessionID] = n - 1
			}
		})
	}
}

// Count reports live consumers on one session.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

// Total reports live consumers across all sessions.
func (r *Registry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.sessions {
		total += n
	}
	return total
}
