package task

import (
	"context"
	"testing"
	"time"

	"audioseg/progress"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "audioseg", ttl), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t, time.Hour)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStore_SaveGetListDelete(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			first := &Task{ID: "a", Status: StatusPending, CreatedAt: base}
			second := &Task{ID: "b", Status: StatusRunning, Percent: 30, CreatedAt: base.Add(time.Second)}
			require.NoError(t, store.Save(ctx, first))
			require.NoError(t, store.Save(ctx, second))

			got, err := store.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, StatusRunning, got.Status)
			assert.Equal(t, float64(30), got.Percent)

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "b", list[0].ID)
			assert.Equal(t, "a", list[1].ID)

			require.NoError(t, store.Delete(ctx, "a"))
			_, err = store.Get(ctx, "a")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orig := &Task{ID: "a", Status: StatusPending}
	require.NoError(t, store.Save(ctx, orig))

	orig.Status = StatusFailed
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	got.Status = StatusCompleted
	again, _ := store.Get(ctx, "a")
	assert.Equal(t, StatusPending, again.Status)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Minute)

	require.NoError(t, store.Save(ctx, &Task{ID: "a", Status: StatusCompleted}))
	assert.True(t, mr.Exists("audioseg:task:a"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := mr.ZMembers("audioseg:tasks")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisStore_RoundTripsResult(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t, time.Hour)

	in := &Task{
		ID:     "a",
		Status: StatusCompleted,
		Result: &progress.Result{
			Segments: []progress.SegmentOutput{{Name: "segment_000.mp3", Reference: "bucket/x"}},
			Playlist: "#EXTM3U\n",
		},
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, []string{"bucket/x"}, out.Result.References())
}
