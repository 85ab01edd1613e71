package repositories

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	statBufferListKey    = "scoutbot:stats:pending"
	statBufferCounterKey = "scoutbot:stats:counters"
)

type RedisStatBufferRepository struct {
	client *redis.Client
}

func NewRedisStatBufferRepository(client *redis.Client) *RedisStatBufferRepository {
	return &RedisStatBufferRepository{client: client}
}

func (r *RedisStatBufferRepository) Append(ctx context.Context, row []byte) error {
	return r.client.RPush(ctx, statBufferListKey, row).Err()
}

// Drain atomically takes and clears all buffered rows.
func (r *RedisStatBufferRepository) Drain(ctx context.Context) ([][]byte, error) {
	pipe := r.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, statBufferListKey, 0, -1)
	pipe.Del(ctx, statBufferListKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	vals := rangeCmd.Val()
	rows := make([][]byte, 0, len(vals))
	for _, v := range vals {
		rows = append(rows, []byte(v))
	}
	return rows, nil
}

func (r *RedisStatBufferRepository) IncrCounter(ctx context.Context, field string) error {
	return r.client.HIncrBy(ctx, statBufferCounterKey, field, 1).Err()
}

func (r *RedisStatBufferRepository) Counters(ctx context.Context) (map[string]int64, error) {
	vals, err := r.client.HGetAll(ctx, statBufferCounterKey).Result()
	if err != nil {
		return nil, err
	}

	counters := make(map[string]int64, len(vals))
	for field, raw := range vals {
		n, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			continue
		}
		counters[field] = n
	}
	return counters, nil
}
