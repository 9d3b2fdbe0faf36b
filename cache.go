package matchstore

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// StateCache is a bounded LRU cache of the last-known state per game.
// Individual operations are safe for concurrent use; callers that need a
// compare followed by a write to be atomic must serialize that themselves
// (CachedStore does).
type StateCache struct {
	lru *lru.Cache[GameID, GameState]
}

// NewStateCache returns a cache holding at most capacity entries. The
// capacity is fixed for the cache's lifetime.
func NewStateCache(capacity int) (*StateCache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	c, err := lru.New[GameID, GameState](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &StateCache{lru: c}, nil
}

// Get returns a copy of the cached state and marks the entry recently used.
func (c *StateCache) Get(id GameID) (GameState, bool) {
	s, ok := c.lru.Get(id)
	if !ok {
		return GameState{}, false
	}
	return s.clone(), true
}

// Put inserts or replaces the entry for id, evicting the least recently
// used entry when at capacity. The cache keeps its own copy of state.
func (c *StateCache) Put(id GameID, state GameState) {
	c.lru.Add(id, state.clone())
}

// Has reports whether id is cached. It marks the entry recently used, since
// a caller probing a game is likely to touch it next.
func (c *StateCache) Has(id GameID) bool {
	_, ok := c.lru.Get(id)
	return ok
}

// StateID returns the StateID of the cached entry without copying the
// payload. Marks the entry recently used.
func (c *StateCache) StateID(id GameID) (int64, bool) {
	s, ok := c.lru.Get(id)
	if !ok {
		return 0, false
	}
	return s.StateID, true
}

// Reset drops all entries. Meant for tests and operator tooling, not for
// steady-state use.
func (c *StateCache) Reset() {
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *StateCache) Len() int {
	return c.lru.Len()
}
