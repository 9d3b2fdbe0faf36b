package matchstore

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var testRedisAddr = flag.String("test-redis-addr", "", "Address of the Redis server used for integration tests")

func TestGameKey(t *testing.T) {
	if got := gameKey("abc123"); got != "game:abc123" {
		t.Errorf("Want game:abc123, got %q", got)
	}
}

func TestRedisEnvelopeRoundtrip(t *testing.T) {
	want := testState(7)
	data, err := msgpack.Marshal(redisEnvelope{StateID: want.StateID, Game: want.Game})
	if err != nil {
		t.Fatal("Failed to encode envelope: ", err)
	}
	got, err := decodeRedisEnvelope(data)
	if err != nil {
		t.Fatal("Failed to decode envelope: ", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Envelope roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestRedisEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := decodeRedisEnvelope([]byte("not msgpack")); err == nil {
		t.Error("Want error for malformed envelope, got nil")
	}
}

// newTestRedisStore connects to the Redis server given by -test-redis-addr
// and wipes test DB 1.
func newTestRedisStore(t *testing.T, config RedisConfig) *RedisStore {
	t.Helper()
	if *testRedisAddr == "" {
		t.Skip("Skipping integration test because -test-redis-addr is not set")
	}
	config.Addr = *testRedisAddr
	config.DB = 1 // keep test data out of the default DB
	s := NewRedisStore(config)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal("Failed to connect: ", err)
	}
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		t.Fatal("Failed to flush test DB: ", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t, RedisConfig{})

	want := testState(3)
	if err := s.Upsert(ctx, "g1", want); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	got, err := s.FindOne(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to find: ", err)
	}
	if got.Rev != "game:g1" {
		t.Errorf("Want Rev game:g1, got %q", got.Rev)
	}
	got.Rev = ""
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stored state mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.FindOne(ctx, "nope"); !errors.Is(err, ErrNotFound) {
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

func TestRedisStoreGameTTL(t *testing.T) {
	ctx := context.Background()

	s := newTestRedisStore(t, RedisConfig{GameTTL: time.Hour})
	if err := s.Upsert(ctx, "g1", testState(1)); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	ttl, err := s.client.TTL(ctx, gameKey("g1")).Result()
	if err != nil {
		t.Fatal("Failed to read TTL: ", err)
	}
	if ttl <= 0 {
		t.Errorf("Want a positive TTL on the game key, got %v", ttl)
	}

	s = newTestRedisStore(t, RedisConfig{})
	if err := s.Upsert(ctx, "g2", testState(1)); err != nil {
		t.Fatal("Failed to upsert: ", err)
	}
	ttl, err = s.client.TTL(ctx, gameKey("g2")).Result()
	if err != nil {
		t.Fatal("Failed to read TTL: ", err)
	}
	if ttl != -1 {
		t.Errorf("Want no expiry without GameTTL, got %v", ttl)
	}
}

func TestRedisStoreListRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t, RedisConfig{})

	for i, id := range []GameID{"g1", "g2", "g3"} {
		if err := s.Upsert(ctx, id, testState(int64(i+1))); err != nil {
			t.Fatal("Failed to upsert: ", err)
		}
	}
	// Back-to-back writes land in the same second; force distinct index
	// scores so the expected order is unambiguous.
	for i, id := range []string{"g2", "g1", "g3"} {
		err := s.client.ZAdd(ctx, recentGamesKey, redis.Z{
			Score:  float64(1000 + i),
			Member: id,
		}).Err()
		if err != nil {
			t.Fatal("Failed to set index score: ", err)
		}
	}

	got, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal("Failed to list recent games: ", err)
	}
	wantIDs := []GameID{"g3", "g1", "g2"}
	if len(got) != len(wantIDs) {
		t.Fatalf("Want %d games, got %d", len(wantIDs), len(got))
	}
	for i, info := range got {
		if info.ID != wantIDs[i] {
			t.Errorf("Want %s at position %d, got %s", wantIDs[i], i, info.ID)
		}
	}
	if got[0].StateID != 3 {
		t.Errorf("Want StateID 3 for g3, got %d", got[0].StateID)
	}

	got, err = s.ListRecent(ctx, 1)
	if err != nil {
		t.Fatal("Failed to list recent games: ", err)
	}
	if len(got) != 1 || got[0].ID != "g3" {
		t.Errorf("Want only the most recent game g3, got %v", got)
	}

	// A game whose key expired stays in the index but must be skipped.
	if err := s.client.Del(ctx, gameKey("g3")).Err(); err != nil {
		t.Fatal("Failed to delete game key: ", err)
	}
	got, err = s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal("Failed to list recent games: ", err)
	}
	if len(got) != 2 || got[0].ID != "g1" || got[1].ID != "g2" {
		t.Errorf("Want [g1 g2] after g3 expired, got %v", got)
	}
}

func TestRedisStoreBehindFacade(t *testing.T) {
	ctx := context.Background()
	rs := newTestRedisStore(t, RedisConfig{})
	s, err := NewCachedStore(rs, DefaultCacheSize)
	if err != nil {
		t.Fatal("Failed to create cached store: ", err)
	}

	if err := s.Set(ctx, "g1", testState(0)); err != nil {
		t.Fatal("Failed to set: ", err)
	}
	if err := s.Set(ctx, "g1", testState(1)); err != nil {
		t.Fatal("Failed to set: ", err)
	}
	// A duplicate of the first write must not reach Redis.
	if err := s.Set(ctx, "g1", testState(0)); err != nil {
		t.Fatal("Duplicate set should be a silent no-op, got: ", err)
	}
	got, err := rs.FindOne(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to find: ", err)
	}
	if got.StateID != 1 {
		t.Errorf("Want Redis to hold StateID 1, got %d", got.StateID)
	}
	s.ResetCache()
	refetched, err := s.Get(ctx, "g1")
	if err != nil {
		t.Fatal("Failed to get: ", err)
	}
	if refetched.StateID != 1 || refetched.Rev != "game:g1" {
		t.Errorf("Want StateID 1 with Rev game:g1 from Redis, got %d %q", refetched.StateID, refetched.Rev)
	}
}
