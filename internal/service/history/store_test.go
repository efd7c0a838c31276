package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chatter/backend/internal/logger"
	"github.com/zhouzirui/tavern-chatter/backend/internal/model/dialogue"
)

var t0 = time.Date(2025, 2, 2, 18, 0, 0, 0, time.UTC)

func turnAt(i int) dialogue.Turn {
	return dialogue.Turn{
		ID:        fmt.Sprintf("turn-%d", i),
		SpeakerID: "greta-ironforge",
		Text:      fmt.Sprintf("line %d", i),
		CreatedAt: t0.Add(time.Duration(i) * time.Second),
	}
}

func newRedisStore(t *testing.T, maxTurns int, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStoreFromClient(rdb, maxTurns, ttl, logger.Discard()), mr
}

func stores(t *testing.T, maxTurns int) map[string]Store {
	t.Helper()
	mem, err := NewMemoryStore(8, maxTurns)
	require.NoError(t, err)
	rs, _ := newRedisStore(t, maxTurns, 0)
	return map[string]Store{"memory": mem, "redis": rs}
}

func mustAppend(t *testing.T, store Store, sceneID string, turns ...dialogue.Turn) []dialogue.Turn {
	t.Helper()
	stored, err := store.Append(context.Background(), sceneID, turns...)
	require.NoError(t, err)
	return stored
}

func TestStoreAppendAndRecent(t *testing.T) {
	for name, store := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mustAppend(t, store, "common-room", turnAt(0), turnAt(1))
			mustAppend(t, store, "common-room", turnAt(2))
			mustAppend(t, store, "cellar", turnAt(9))

			recent, err := store.Recent(ctx, "common-room", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "line 1", recent[0].Text)
			assert.Equal(t, "line 2", recent[1].Text)
			assert.True(t, recent[1].CreatedAt.Equal(turnAt(2).CreatedAt))

			all, err := store.Recent(ctx, "common-room", 0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			more, err := store.Recent(ctx, "common-room", 50)
			require.NoError(t, err)
			assert.Len(t, more, 3)

			empty, err := store.Recent(ctx, "attic", 5)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStoreCapsTurns(t *testing.T) {
	for name, store := range stores(t, 3) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				mustAppend(t, store, "common-room", turnAt(i))
			}

			all, err := store.Recent(ctx, "common-room", 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "line 2", all[0].Text)
			assert.Equal(t, "line 4", all[2].Text)
		})
	}
}

func TestStoreSince(t *testing.T) {
	for name, store := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mustAppend(t, store, "common-room", turnAt(0), turnAt(1), turnAt(2))

			got, err := store.Since(ctx, "common-room", turnAt(0).CreatedAt)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "turn-1", got[0].ID)

			got, err = store.Since(ctx, "common-room", time.Time{})
			require.NoError(t, err)
			assert.Len(t, got, 3)
		})
	}
}

func TestStoreKeepsCursorMonotonic(t *testing.T) {
	for name, store := range stores(t, 100) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ahead := mustAppend(t, store, "common-room", turnAt(10), turnAt(11))
			require.Len(t, ahead, 2)
			assert.True(t, ahead[1].CreatedAt.Equal(turnAt(11).CreatedAt))

			// stamped earlier than the stored tail
			late := mustAppend(t, store, "common-room", turnAt(1), turnAt(1))
			require.Len(t, late, 2)
			assert.True(t, late[0].CreatedAt.After(ahead[1].CreatedAt))
			assert.True(t, late[1].CreatedAt.After(late[0].CreatedAt))

			got, err := store.Since(ctx, "common-room", ahead[1].CreatedAt)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "turn-1", got[0].ID)
			assert.True(t, got[1].CreatedAt.Equal(late[1].CreatedAt))
		})
	}
}

func TestRedisStoreIgnoresUnreadableTail(t *testing.T) {
	store, mr := newRedisStore(t, 10, 0)
	_, err := mr.Push(sceneKey("common-room"), "not json")
	require.NoError(t, err)

	stored := mustAppend(t, store, "common-room", turnAt(0))
	require.Len(t, stored, 1)
	assert.True(t, stored[0].CreatedAt.Equal(turnAt(0).CreatedAt))
}

func TestStoreRequiresScene(t *testing.T) {
	for name, store := range stores(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.Append(ctx, "", turnAt(0))
			assert.ErrorIs(t, err, ErrSceneRequired)
			_, err = store.Recent(ctx, "", 1)
			assert.ErrorIs(t, err, ErrSceneRequired)
			_, err = store.Since(ctx, "", t0)
			assert.ErrorIs(t, err, ErrSceneRequired)
		})
	}
}

func TestMemoryStoreEvictsOldScenes(t *testing.T) {
	store, err := NewMemoryStore(2, 10)
	require.NoError(t, err)
	ctx := context.Background()

	mustAppend(t, store, "a", turnAt(0))
	mustAppend(t, store, "b", turnAt(1))
	mustAppend(t, store, "c", turnAt(2))
	assert.Equal(t, 2, store.Scenes())

	gone, err := store.Recent(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store, err := NewMemoryStore(2, 10)
	require.NoError(t, err)
	ctx := context.Background()
	mustAppend(t, store, "a", turnAt(0))

	got, err := store.Recent(ctx, "a", 0)
	require.NoError(t, err)
	got[0].Text = "tampered"

	again, err := store.Recent(ctx, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, "line 0", again[0].Text)
}

func TestRedisStoreTTL(t *testing.T) {
	store, mr := newRedisStore(t, 10, time.Hour)
	mustAppend(t, store, "common-room", turnAt(0))
	assert.Equal(t, time.Hour, mr.TTL(sceneKey("common-room")))

	mr.FastForward(2 * time.Hour)
	got, err := store.Recent(context.Background(), "common-room", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStoreSkipsMalformedEntries(t *testing.T) {
	store, mr := newRedisStore(t, 10, 0)
	mustAppend(t, store, "common-room", turnAt(0))
	_, err := mr.Push(sceneKey("common-room"), "not json")
	require.NoError(t, err)

	got, err := store.Recent(context.Background(), "common-room", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, RedisOptions{Addr: "127.0.0.1:1", MaxTurns: 10}, logger.Discard())
	assert.Error(t, err)
}
