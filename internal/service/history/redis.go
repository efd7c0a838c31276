package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

const (
	keyPrefix         = "tavern:scene:"
	maxAppendAttempts = 5
)

// RedisStore keeps each scene transcript as a capped Redis list of JSON
// encoded turns.
type RedisStore struct {
	rdb      *redis.Client
	maxTurns int64
	ttl      time.Duration
	logger   *slog.Logger
}

var _ Store = (*RedisStore)(nil)

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	MaxTurns int
	TTL      time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store := NewRedisStoreFromClient(rdb, opts.MaxTurns, opts.TTL, logger)
	store.logger.Info("Connected to Redis for scene history", "addr", opts.Addr)
	return store, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, maxTurns int, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if maxTurns < 1 {
		maxTurns = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:      rdb,
		maxTurns: int64(maxTurns),
		ttl:      ttl,
		logger:   logger.With("component", "history"),
	}
}

// Append pushes turns and trims the list to the newest maxTurns entries. The
// tail is read under WATCH so concurrent writers cannot interleave stamps.
func (s *RedisStore) Append(ctx context.Context, sceneID string, turns ...dialogue.Turn) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}
	if len(turns) == 0 {
		return nil, nil
	}

	key := sceneKey(sceneID)
	var stored []dialogue.Turn
	txf := func(tx *redis.Tx) error {
		last, err := s.lastCreated(ctx, tx, key)
		if err != nil {
			return err
		}
		stored = sequence(last, turns)

		values := make([]interface{}, 0, len(stored))
		for _, turn := range stored {
			data, err := json.Marshal(turn)
			if err != nil {
				return fmt.Errorf("could not marshal turn: %w", err)
			}
			values = append(values, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, values...)
			pipe.LTrim(ctx, key, -s.maxTurns, -1)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		s.logger.Error("Redis append failed", "key", key, "error", err)
		return nil, fmt.Errorf("redis append failed: %w", err)
	}
	return stored, nil
}

// lastCreated reads the newest stored turn's timestamp. An empty or
// unreadable tail yields the zero time.
func (s *RedisStore) lastCreated(ctx context.Context, tx *redis.Tx, key string) (time.Time, error) {
	raw, err := tx.LIndex(ctx, key, -1).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	var turn dialogue.Turn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		s.logger.Warn("unreadable tail turn", "key", key, "error", err)
		return time.Time{}, nil
	}
	return turn.CreatedAt, nil
}

// Recent returns the newest n turns, oldest first. n <= 0 returns everything.
func (s *RedisStore) Recent(ctx context.Context, sceneID string, n int) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}

	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	return s.load(ctx, sceneID, start)
}

// Since returns turns created strictly after the given instant.
func (s *RedisStore) Since(ctx context.Context, sceneID string, since time.Time) ([]dialogue.Turn, error) {
	if sceneID == "" {
		return nil, ErrSceneRequired
	}

	turns, err := s.load(ctx, sceneID, 0)
	if err != nil {
		return nil, err
	}
	return after(turns, since), nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) load(ctx context.Context, sceneID string, start int64) ([]dialogue.Turn, error) {
	key := sceneKey(sceneID)
	raw, err := s.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}

	turns := make([]dialogue.Turn, 0, len(raw))
	for _, item := range raw {
		var turn dialogue.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			s.logger.Warn("skipping malformed turn", "key", key, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func sceneKey(sceneID string) string {
	return keyPrefix + sceneID + ":turns"
}
