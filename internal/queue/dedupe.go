package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const doneKeyPrefix = "orderjob:done:"

// RedisDeduper marks finished job ids with a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Done(ctx context.Context, jobID string) (bool, error) {
	_, err := d.client.Get(ctx, doneKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", jobID, err)
	}
	return true, nil
}

func (d *RedisDeduper) MarkDone(ctx context.Context, jobID string) error {
	if err := d.client.Set(ctx, doneKeyPrefix+jobID, time.Now().UTC().Format(time.RFC3339), d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", jobID, err)
	}
	return nil
}
