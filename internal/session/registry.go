package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chesslink/chesslink-server/internal/config"
)

// Deps carries the shared collaborators every coordinator is built with.
type Deps struct {
	Games   GameStore
	Results ResultStore
	Engine  Recommender
	Policy  config.ColorPolicy
	Logger  *zap.Logger
}

// Registry routes game identifiers to their single live coordinator,
// creating one on first reference. A coordinator holds no state until its
// first operation hydrates it, so creating is cheap and idempotent per id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Coordinator
	deps     Deps
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*Coordinator),
		deps:     deps,
	}
}

// Get returns the coordinator for gameID, creating it if this is the first
// reference since startup.
func (r *Registry) Get(gameID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[gameID]; ok {
		return c
	}
	c := newCoordinator(gameID, r.deps)
	r.sessions[gameID] = c
	return c
}

// Len reports the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
