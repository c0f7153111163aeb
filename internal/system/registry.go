package system

import (
	"context"
	"sync"

	"github.com/roasbeef/edgerpc/internal/identity"
)

// Registry is the thread-safe map from actor ID to local actor handle.
// It owns a strong reference to each registered actor for the lifetime
// of the registration. All operations hold a single mutex for O(1)
// time.
type Registry struct {
	mu sync.RWMutex

	// actors maps the ID's string form to the registered dispatcher.
	actors map[string]Dispatcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actors: make(map[string]Dispatcher),
	}
}

// Register stores the actor under its ID. Registering an ID twice
// replaces the prior entry and logs a warning; the registry never holds
// two actors for one ID.
func (r *Registry) Register(actor Dispatcher) {
	id := actor.ActorID()

	r.mu.Lock()
	_, replaced := r.actors[id.String()]
	r.actors[id.String()] = actor
	r.mu.Unlock()

	if replaced {
		log.WarnS(context.Background(),
			"Replacing registered actor", nil, "actor_id", id)
	} else {
		log.DebugS(context.Background(), "Actor registered",
			"actor_id", id)
	}
}

// Find returns the actor registered under id. Until Unregister is
// called, Find returns the same reference for a given ID.
func (r *Registry) Find(id identity.ID) (Dispatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actor, ok := r.actors[id.String()]

	return actor, ok
}

// Unregister removes the actor registered under id, returning whether
// an entry existed. The strong reference is dropped here.
func (r *Registry) Unregister(id identity.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actors[id.String()]; !ok {
		return false
	}

	delete(r.actors, id.String())

	log.DebugS(context.Background(), "Actor unregistered",
		"actor_id", id)

	return true
}

// Len returns the number of registered actors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.actors)
}
