package matchstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tablegames/matchstore/mlog"
)

// CachedStore is the game server's persistence facade: a write-through
// StateCache in front of a durable Store.
//
// Writes and read-refreshes re-check the cache at commit time, so
// interleaved operations on the same game cannot regress the cache to an
// older StateID. The commit rule on a read miss: oldStateID is the cached
// StateID, or 0 when nothing is cached; newStateID is the store result's
// StateID, or -1 when the store has nothing; the result is cached only when
// newStateID >= oldStateID. With these defaults any store hit fills an empty
// slot, and a store miss never evicts an entry written by a concurrent Set.
//
// The cache is owned exclusively by its CachedStore. The store is shared
// across processes and remains the source of record; the cache is a
// non-authoritative accelerator.
type CachedStore struct {
	store Store
	cache *StateCache

	// mu serializes compound cache sections (compare followed by write).
	// It is never held across store I/O.
	mu sync.Mutex

	hits        atomic.Int64
	misses      atomic.Int64
	staleWrites atomic.Int64
}

// NewCachedStore returns a facade over store with a cache of cacheSize
// entries. Use DefaultCacheSize unless measurements say otherwise.
func NewCachedStore(store Store, cacheSize int) (*CachedStore, error) {
	cache, err := NewStateCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &CachedStore{store: store, cache: cache}, nil
}

// Connect establishes the durable store connection. Call once, before any
// other method; reconnection is not supported. Failures are logged and
// returned.
func (s *CachedStore) Connect(ctx context.Context) error {
	if err := s.store.Connect(ctx); err != nil {
		mlog.Errorf("store connection failed: %v", err)
		return err
	}
	return nil
}

// Set records state as the latest known state of the game and persists it
// through an idempotent upsert. A write whose StateID does not advance the
// cached entry is discarded entirely, so a delayed or duplicated delivery
// never clobbers a fresher state. The cache is updated before the store
// write; when the upsert fails, the error is returned and the cache keeps
// the newer state (a later Set, or a Get after ResetCache, reconverges it
// with the store).
func (s *CachedStore) Set(ctx context.Context, id GameID, state GameState) error {
	// The write path never carries store identity. Stores assign their
	// own on persist; reads report it back.
	state.Rev = ""

	s.mu.Lock()
	if cur, ok := s.cache.StateID(id); ok && cur >= state.StateID {
		s.mu.Unlock()
		s.staleWrites.Add(1)
		return nil
	}
	s.cache.Put(id, state)
	s.mu.Unlock()

	return s.store.Upsert(ctx, id, state)
}

// Get returns the current state of the game: the cached value on a hit, the
// store's most recent document on a miss. On a miss the fetched document
// also refreshes the cache, unless a concurrent Set advanced the cache past
// the store result while the lookup was in flight. Returns ErrNotFound when
// neither the cache nor the store knows the game; store failures are
// returned as is, with no retry.
func (s *CachedStore) Get(ctx context.Context, id GameID) (GameState, error) {
	if state, ok := s.cache.Get(id); ok {
		s.hits.Add(1)
		return state, nil
	}
	s.misses.Add(1)

	state, err := s.store.FindOne(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return GameState{}, err
	}

	// Commit re-check: the cache may have moved while FindOne was in
	// flight, so the stale/fresh comparison runs against the cache as it
	// is now, not as it was before the lookup.
	oldID := int64(0)  // nothing cached: any store hit wins
	newID := int64(-1) // store miss: must never evict
	if err == nil {
		newID = state.StateID
	}
	s.mu.Lock()
	if cur, ok := s.cache.StateID(id); ok {
		oldID = cur
	}
	if newID >= oldID {
		s.cache.Put(id, state)
	}
	s.mu.Unlock()

	if err != nil {
		return GameState{}, err
	}
	// Even if a concurrent Set cached a different state during the
	// lookup, Get reports what the store returned; the cache update
	// above only serves future callers.
	return state, nil
}

// Has reports whether the game exists, from the cache when possible and
// otherwise via a store existence check. A miss does not mutate the cache
// and does not fetch the state.
func (s *CachedStore) Has(ctx context.Context, id GameID) (bool, error) {
	if s.cache.Has(id) {
		s.hits.Add(1)
		return true, nil
	}
	s.misses.Add(1)
	return s.store.Exists(ctx, id)
}

// ListRecent returns up to limit games ordered by most recent write. It is
// always served by the store; the cache keeps no global recency order.
func (s *CachedStore) ListRecent(ctx context.Context, limit int) ([]GameInfo, error) {
	return s.store.ListRecent(ctx, limit)
}

// ResetCache drops all cached entries, forcing subsequent reads back to the
// store. For operators and tests.
func (s *CachedStore) ResetCache() {
	s.mu.Lock()
	s.cache.Reset()
	s.mu.Unlock()
}

// Close releases the durable store connection.
func (s *CachedStore) Close() error {
	return s.store.Close()
}

// CacheStats is a point-in-time snapshot of the facade's counters.
type CacheStats struct {
	Hits        int64
	Misses      int64
	StaleWrites int64
	Entries     int
}

// Stats returns the facade's cache counters. Hits and misses count Get and
// Has traffic; StaleWrites counts Set calls discarded by the monotonicity
// guard.
func (s *CachedStore) Stats() CacheStats {
	return CacheStats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		StaleWrites: s.staleWrites.Load(),
		Entries:     s.cache.Len(),
	}
}
