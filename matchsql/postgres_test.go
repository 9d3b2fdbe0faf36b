package matchsql

import (
	"context"
	"errors"
	"flag"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tablegames/matchstore"
)

var testPostgresURL = flag.String("test-postgres-url", "", "Connection URL of the PostgreSQL server used for integration tests")

// newTestPostgresStore connects to the database given by -test-postgres-url
// and empties the games table.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if *testPostgresURL == "" {
		t.Skip("Skipping integration test because -test-postgres-url is not set")
	}
	s := NewPostgresStore(*testPostgresURL)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal("Failed to connect: ", err)
	}
	if _, err := s.pool.ExecContext(ctx, `DELETE FROM games`); err != nil {
		t.Fatal("Failed to clean games table: ", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	want := matchstore.GameState{StateID: 2, Game: []byte(`{"board":[0,1,2]}`)}
	if err := s.Upsert(ctx, "g1", want); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	got, err := s.FindOne(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to find: ", err)
	}
	if _, err := strconv.ParseInt(got.Rev, 10, 64); err != nil {
		t.Errorf("Want a numeric row id as Rev, got %q", got.Rev)
	}
	got.Rev = ""
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stored state mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.FindOne(ctx, "nope"); !errors.Is(err, matchstore.ErrNotFound) {
		t.Errorf("Want ErrNotFound, got %v", err)
	}
	ok, err := s.Exists(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to check existence: ", err)
	}
	if !ok {
		t.Error("Want true after upsert")
	}
	ok, err = s.Exists(ctx, "nope")
	if err != nil {
		t.Fatal("Failed to check existence: ", err)
	}
	if ok {
		t.Error("Want false for a game never written")
	}
}

func TestPostgresStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	if err := s.Upsert(ctx, "g1", matchstore.GameState{StateID: 1, Game: []byte(`{"n":1}`)}); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	first, err := s.FindOne(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to find: ", err)
	}
	if err := s.Upsert(ctx, "g1", matchstore.GameState{StateID: 2, Game: []byte(`{"n":2}`)}); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	second, err := s.FindOne(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to find: ", err)
	}
	if second.StateID != 2 || string(second.Game) != `{"n":2}` {
		t.Errorf("Want the second write to replace the first, got %d %s", second.StateID, second.Game)
	}
	// In-place replacement keeps the row, and with it the Rev.
	if first.Rev != second.Rev {
		t.Errorf("Want a stable Rev across replacements, got %q then %q", first.Rev, second.Rev)
	}
	var rowCount int
	if err := s.pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&rowCount); err != nil {
		t.Fatal("Failed to count rows: ", err)
	}
	if rowCount != 1 {
		t.Errorf("Want a single row per game, got %d", rowCount)
	}
}

func TestPostgresStoreListRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	for i, id := range []matchstore.GameID{"g1", "g2", "g3"} {
		state := matchstore.GameState{StateID: int64(i + 1)}
		if err := s.Upsert(ctx, id, state); err != nil {
			t.Fatal("Failed to upsert: ", err)
		}
	}
	// Pin modification times; back-to-back writes may share a timestamp.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"g2", "g1", "g3"} {
		_, err := s.pool.ExecContext(ctx,
			`UPDATE games SET modified = $1 WHERE game_id = $2`,
			base.Add(time.Duration(i)*time.Minute), id)
		if err != nil {
			t.Fatal("Failed to pin modified: ", err)
		}
	}

	got, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal("Failed to list recent games: ", err)
	}
	wantIDs := []matchstore.GameID{"g3", "g1", "g2"}
	if len(got) != len(wantIDs) {
		t.Fatalf("Want %d games, got %d", len(wantIDs), len(got))
	}
	for i, info := range got {
		if info.ID != wantIDs[i] {
			t.Errorf("Want %s at position %d, got %s", wantIDs[i], i, info.ID)
		}
	}

	got, err = s.ListRecent(ctx, 1)
	if err != nil {
		t.Fatal("Failed to list recent games: ", err)
	}
	if len(got) != 1 || got[0].ID != "g3" {
		t.Errorf("Want only the most recent game g3, got %v", got)
	}
}
