package matchstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablegames/matchstore/mlog"
)

// recentGamesKey is the sorted set indexing games by last write time.
const recentGamesKey = "recentgames"

// RedisStore keeps game state in Redis, one value per game under a "game:"
// prefixed key, plus a sorted set for recency listings. Values are msgpack
// encoded. Suited as a shared hot store for short-lived games; set GameTTL
// to let finished games expire.
type RedisStore struct {
	client *redis.Client
	config RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// GameTTL expires game keys this long after their last write.
	// Zero means no expiry.
	GameTTL time.Duration
}

// redisEnvelope is the stored value layout. Game stays opaque bytes.
type redisEnvelope struct {
	StateID int64  `msgpack:"state_id"`
	Game    []byte `msgpack:"game"`
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns an unconnected store; call Connect before use.
func NewRedisStore(config RedisConfig) *RedisStore {
	return &RedisStore{
		config: config,
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
	}
}

func (s *RedisStore) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis at %s: %w", s.config.Addr, err)
	}
	mlog.Infof("Connected to Redis at %s", s.config.Addr)
	return nil
}

func gameKey(id GameID) string {
	return "game:" + string(id)
}

func (s *RedisStore) FindOne(ctx context.Context, id GameID) (GameState, error) {
	data, err := s.client.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return GameState{}, ErrNotFound
	}
	if err != nil {
		return GameState{}, fmt.Errorf("get game %q: %w", id, err)
	}
	state, err := decodeRedisEnvelope(data)
	if err != nil {
		return GameState{}, fmt.Errorf("decode game %q: %w", id, err)
	}
	state.Rev = gameKey(id)
	return state, nil
}

func (s *RedisStore) Upsert(ctx context.Context, id GameID, state GameState) error {
	data, err := msgpack.Marshal(redisEnvelope{StateID: state.StateID, Game: state.Game})
	if err != nil {
		return fmt.Errorf("encode game %q: %w", id, err)
	}
	if err := s.client.Set(ctx, gameKey(id), data, s.config.GameTTL).Err(); err != nil {
		return fmt.Errorf("set game %q: %w", id, err)
	}
	// The recency index is best effort; the game write above is what
	// counts.
	err = s.client.ZAdd(ctx, recentGamesKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: string(id),
	}).Err()
	if err != nil {
		mlog.Errorf("Failed to index game %q in %s: %v", id, recentGamesKey, err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, id GameID) (bool, error) {
	n, err := s.client.Exists(ctx, gameKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("exists game %q: %w", id, err)
	}
	return n > 0, nil
}

// ListRecent reads the recency index, then fetches the listed games in one
// MGET to report their StateIDs. Games whose keys expired since their last
// write are skipped.
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, recentGamesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(zs))
	for i, z := range zs {
		keys[i] = gameKey(GameID(z.Member.(string)))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	infos := make([]GameInfo, 0, len(zs))
	for i, z := range zs {
		v, ok := vals[i].(string)
		if !ok {
			continue // expired since last write
		}
		state, err := decodeRedisEnvelope([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("decode game %q: %w", z.Member, err)
		}
		infos = append(infos, GameInfo{
			ID:       GameID(z.Member.(string)),
			StateID:  state.StateID,
			Modified: time.Unix(int64(z.Score), 0),
		})
	}
	return infos, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRedisEnvelope(data []byte) (GameState, error) {
	var env redisEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return GameState{}, err
	}
	return GameState{StateID: env.StateID, Game: json.RawMessage(env.Game)}, nil
}
