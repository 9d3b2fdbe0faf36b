// Package matchsql provides matchstore.Store implementations backed by SQL
// databases: a one-row-per-game Postgres store and an append-only SQLite
// journal.
package matchsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Registers pgx as a database/sql driver.

	"github.com/tablegames/matchstore"
	"github.com/tablegames/matchstore/mlog"
)

const pgSchema = `
	CREATE TABLE IF NOT EXISTS games (
		id       BIGSERIAL PRIMARY KEY,
		game_id  TEXT NOT NULL UNIQUE,
		state_id BIGINT NOT NULL,
		game     BYTEA,
		modified TIMESTAMPTZ NOT NULL
	)`

// PostgresStore keeps the current state of each game in a single row,
// replaced in place on every write. Game payloads are stored as raw bytes,
// so what was written is what reads return.
type PostgresStore struct {
	url  string
	pool *sql.DB
}

var _ matchstore.Store = (*PostgresStore)(nil)

// NewPostgresStore returns an unconnected store for the given pgx
// connection URL; call Connect before use.
func NewPostgresStore(url string) *PostgresStore {
	return &PostgresStore{url: url}
}

// Connect opens the connection pool, verifies it with a ping and ensures
// the games table exists.
func (s *PostgresStore) Connect(ctx context.Context) error {
	pool, err := sql.Open("pgx", s.url)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.ExecContext(ctx, pgSchema); err != nil {
		pool.Close()
		return fmt.Errorf("ensure games table: %w", err)
	}
	s.pool = pool
	mlog.Infof("Connected to PostgreSQL")
	return nil
}

func (s *PostgresStore) FindOne(ctx context.Context, id matchstore.GameID) (matchstore.GameState, error) {
	var (
		rowID   int64
		stateID int64
		game    []byte
	)
	err := s.pool.QueryRowContext(ctx,
		`SELECT id, state_id, game FROM games WHERE game_id = $1`,
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

func (s *PostgresStore) Upsert(ctx context.Context, id matchstore.GameID, state matchstore.GameState) error {
	_, err := s.pool.ExecContext(ctx, `
		INSERT INTO games (game_id, state_id, game, modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id) DO UPDATE SET state_id = $2, game = $3, modified = $4`,
		string(id), state.StateID, []byte(state.Game), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store game %q: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, id matchstore.GameID) (bool, error) {
	var exists bool
	err := s.pool.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM games WHERE game_id = $1)`,
		string(id)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists game %q: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]matchstore.GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.QueryContext(ctx, `
		SELECT game_id, state_id, modified FROM games
		ORDER BY modified DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	defer rows.Close()
	var infos []matchstore.GameInfo
	for rows.Next() {
		var (
			gameID   string
			stateID  int64
			modified time.Time
		)
		if err := rows.Scan(&gameID, &stateID, &modified); err != nil {
			return nil, fmt.Errorf("list recent games: %w", err)
		}
		infos = append(infos, matchstore.GameInfo{
			ID:       matchstore.GameID(gameID),
			StateID:  stateID,
			Modified: modified,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	return infos, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}
