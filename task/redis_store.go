package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audioseg/config"

	redis "github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// RedisStore keeps snapshots in Redis so pollers on other instances see them.
// Keys: <prefix>:task:<id> => JSON(Task) with TTL, <prefix>:tasks sorted set
// scored by creation time for listing.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// ConnectRedis builds a client from configuration and pings it.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) taskKey(id string) string { return fmt.Sprintf("%s:task:%s", r.prefix, id) }
func (r *RedisStore) indexKey() string         { return r.prefix + ":tasks" }

func (r *RedisStore) Save(ctx context.Context, t *Task) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.taskKey(t.ID), b, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.taskKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var t Task
	if err := json.Unmarshal(val, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns tasks newest first. Index entries whose snapshot expired are
// pruned on the way.
func (r *RedisStore) List(ctx context.Context) ([]*Task, error) {
	lctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	ids, err := r.client.ZRevRange(lctx, r.indexKey(), 0, -1).Result()
	cancel()
	if err != nil {
		return nil, err
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			pctx, pcancel := context.WithTimeout(ctx, redisOpTimeout)
			r.client.ZRem(pctx, r.indexKey(), id)
			pcancel()
			continue
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.taskKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}
