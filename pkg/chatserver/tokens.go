package chatserver

import (
	"sync"

	"github.com/google/uuid"
)

// TokenRegistry issues opaque bearer tokens for development sessions and
// resolves them back to user ids. Real credential issuance lives outside
// this subsystem; this registry only exists so the client core has a
// conformant collaborator to talk to.
type TokenRegistry struct {
	mu      sync.RWMutex
	byToken map[string]int64
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{byToken: make(map[string]int64)}
}

// Issue creates a fresh token bound to the user id.
func (r *TokenRegistry) Issue(userID int64) string {
	token := uuid.New().String()
	r.mu.Lock()
	r.byToken[token] = userID
	r.mu.Unlock()
	return token
}

// Resolve maps a token back to its user id.
func (r *TokenRegistry) Resolve(token string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	return id, ok
}

// Revoke invalidates a token, e.g. on logout.
func (r *TokenRegistry) Revoke(token string) {
	r.mu.Lock()
	delete(r.byToken, token)
	r.mu.Unlock()
}
