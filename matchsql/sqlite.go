package matchsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Registers the pure Go sqlite driver.

	"github.com/tablegames/matchstore"
	"github.com/tablegames/matchstore/mlog"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS game_states (
		game_id  TEXT NOT NULL,
		state_id INTEGER NOT NULL,
		game     BLOB,
		created  INTEGER NOT NULL,
		UNIQUE (game_id, state_id)
	)`

// SQLiteStore journals every accepted state as its own row and serves reads
// from the row with the highest StateID per game. Old states remain
// available for offline inspection; nothing in this layer reads them back.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

var _ matchstore.Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns an unconnected store writing to the database file
// at path; call Connect before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	dsn := s.path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("ensure game_states table: %w", err)
	}
	s.db = db
	mlog.Infof("Connected to SQLite at %s", s.path)
	return nil
}

func (s *SQLiteStore) FindOne(ctx context.Context, id matchstore.GameID) (matchstore.GameState, error) {
	var (
		rowID   int64
		stateID int64
		game    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT rowid, state_id, game FROM game_states
		WHERE game_id = ? ORDER BY state_id DESC LIMIT 1`,
		string(id)).Scan(&rowID, &stateID, &game)
	if errors.Is(err, sql.ErrNoRows) {
		return matchstore.GameState{}, matchstore.ErrNotFound
	}
	if err != nil {
		return matchstore.GameState{}, fmt.Errorf("load game %q: %w", id, err)
	}
	return matchstore.GameState{
		StateID: stateID,
		Game:    game,
		Rev:     strconv.FormatInt(rowID, 10),
	}, nil
}

// Upsert appends one journal row per (game, StateID). Re-delivering a state
// replaces the payload of its own row and touches nothing newer.
func (s *SQLiteStore) Upsert(ctx context.Context, id matchstore.GameID, state matchstore.GameState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_states (game_id, state_id, game, created)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (game_id, state_id) DO UPDATE SET game = excluded.game`,
		string(id), state.StateID, []byte(state.Game), toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("store game %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, id matchstore.GameID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM game_states WHERE game_id = ?)`,
		string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists game %q: %w", id, err)
	}
	return exists, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]matchstore.GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.game_id, g.state_id, g.created
		FROM game_states g
		JOIN (
			SELECT game_id, MAX(state_id) AS max_state
			FROM game_states GROUP BY game_id
		) m ON g.game_id = m.game_id AND g.state_id = m.max_state
		ORDER BY g.created DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	defer rows.Close()
	var infos []matchstore.GameInfo
	for rows.Next() {
		var (
			gameID  string
			stateID int64
			created int64
		)
		if err := rows.Scan(&gameID, &stateID, &created); err != nil {
			return nil, fmt.Errorf("list recent games: %w", err)
		}
		infos = append(infos, matchstore.GameInfo{
			ID:       matchstore.GameID(gameID),
			StateID:  stateID,
			Modified: fromMillis(created),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	return infos, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
