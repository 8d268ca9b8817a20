package gatekeeper

import (
	"sync"
	"time"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
)

// ScopeState is the most recent decision seen for a scope
type ScopeState struct {
	CheckID   int64
	Decision  *gate.Decision
	UpdatedAt time.Time
}

// ScopeCache is a thread-safe cache of the latest decision per scope
type ScopeCache struct {
	mu     sync.RWMutex
	states map[string]*ScopeState
}

// NewScopeCache creates a new scope cache
func NewScopeCache() *ScopeCache {
	return &ScopeCache{
		states: make(map[string]*ScopeState),
	}
}

// Get retrieves the cached state for a scope
func (c *ScopeCache) Get(scope string) (*ScopeState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, exists := c.states[scope]
	return state, exists
}

// Set stores the state for a scope unless a newer one is already cached
func (c *ScopeCache) Set(scope string, state *ScopeState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.states[scope]; ok && newer(prev, state) {
		return
	}
	c.states[scope] = state
}

// GetAll returns a snapshot of all cached states
func (c *ScopeCache) GetAll() map[string]*ScopeState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]*ScopeState, len(c.states))
	for k, v := range c.states {
		snapshot[k] = v
	}

	return snapshot
}

// Size returns the number of cached scopes
func (c *ScopeCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.states)
}

// newer reports whether a supersedes b, breaking time ties by check ID
func newer(a, b *ScopeState) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.CheckID > b.CheckID
}
