// Package matchstore is the persistence layer for turn-based game servers.
// It stores per-game state in a durable backend and serves reads and writes
// through a bounded write-through cache that never regresses to an older
// state once a newer one has been observed.
package matchstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultCacheSize is the cache capacity used when none is configured.
const DefaultCacheSize = 1000

var (
	// ErrNotFound reports that no state exists for the requested game.
	// It is a valid outcome of a lookup, not a store failure.
	ErrNotFound = errors.New("matchstore: game not found")
	// ErrNotSupported reports that a Store does not implement an
	// optional capability.
	ErrNotSupported = errors.New("matchstore: operation not supported")
)

// GameID identifies one game. Callers choose the key; this layer treats it
// as opaque.
type GameID string

// GameState is the versioned state envelope for one game. Only StateID is
// interpreted by this layer; Game is passed through untouched.
type GameState struct {
	// StateID is the caller-assigned sequence number, increasing with
	// every state advance. Writes carrying a StateID not newer than the
	// last observed one are discarded.
	StateID int64 `json:"stateID"`
	// Game is the opaque game document.
	Game json.RawMessage `json:"game,omitempty"`
	// Rev is identity metadata assigned by the durable store (row id,
	// object ETag, file path). Stores set it on every read; the write
	// path clears it, so a non-empty Rev always means the value was
	// read back from the store.
	Rev string `json:"-"`
}

// clone returns a copy that shares no mutable memory with s.
func (s GameState) clone() GameState {
	if s.Game != nil {
		s.Game = append(json.RawMessage(nil), s.Game...)
	}
	return s
}

// GameInfo describes one game in a recency listing.
type GameInfo struct {
	ID       GameID
	StateID  int64
	Modified time.Time
}

// Store is the capability interface of a durable game state backend.
// Implementations must be safe for concurrent use. Lookup methods return
// ErrNotFound for absent games; all other errors are store failures and are
// reported as is, with no retries at this layer.
type Store interface {
	// Connect authenticates and establishes the backend connection.
	// Must be called once before any other method.
	Connect(ctx context.Context) error
	// FindOne returns the most recent stored state of the given game,
	// with Rev set to the backend's identity for the returned value.
	FindOne(ctx context.Context, id GameID) (GameState, error)
	// Upsert durably records state as the current state of the given
	// game. It creates the game if absent and replaces it otherwise;
	// re-delivering the same state is a no-op, not an error.
	Upsert(ctx context.Context, id GameID, state GameState) error
	// Exists reports whether any state is stored for the given game.
	Exists(ctx context.Context, id GameID) (bool, error)
	// ListRecent returns up to limit games, most recently written first.
	// Backends without a recency index return ErrNotSupported.
	ListRecent(ctx context.Context, limit int) ([]GameInfo, error)
	// Close releases the backend connection and associated resources.
	Close() error
}
