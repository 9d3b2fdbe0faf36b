package matchstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemStore is an in-process Store keeping all game state in memory. It
// backs tests and single-node development setups; nothing survives a
// restart.
type MemStore struct {
	mu    sync.RWMutex
	seq   int64
	games map[GameID]memEntry
}

type memEntry struct {
	state    GameState
	seq      int64
	modified time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{games: make(map[GameID]memEntry)}
}

// Connect is a no-op; a MemStore is ready on construction.
func (m *MemStore) Connect(ctx context.Context) error {
	return nil
}

func (m *MemStore) FindOne(ctx context.Context, id GameID) (GameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.games[id]
	if !ok {
		return GameState{}, ErrNotFound
	}
	return e.state.clone(), nil
}

func (m *MemStore) Upsert(ctx context.Context, id GameID, state GameState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	state = state.clone()
	state.Rev = "mem:" + strconv.FormatInt(m.seq, 10)
	m.games[id] = memEntry{state: state, seq: m.seq, modified: time.Now()}
	return nil
}

func (m *MemStore) Exists(ctx context.Context, id GameID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.games[id]
	return ok, nil
}

// ListRecent orders by write sequence, not wall clock, so back-to-back
// writes in the same clock tick still list deterministically.
func (m *MemStore) ListRecent(ctx context.Context, limit int) ([]GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	entries := make([]memEntry, 0, len(m.games))
	ids := make(map[int64]GameID, len(m.games))
	for id, e := range m.games {
		entries = append(entries, e)
		ids[e.seq] = id
	}
	m.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	infos := make([]GameInfo, len(entries))
	for i, e := range entries {
		infos[i] = GameInfo{ID: ids[e.seq], StateID: e.state.StateID, Modified: e.modified}
	}
	return infos, nil
}

func (m *MemStore) Close() error {
	return nil
}
