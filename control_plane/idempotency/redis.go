package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tierroute:idempotency:"

func resultKey(key string) string { return keyPrefix + "result:" + key }
func lockKey(key string) string   { return keyPrefix + "lock:" + key }

// RedisStore shares idempotency state across service replicas.
type RedisStore struct {
	client  *redis.Client
	lockTTL time.Duration
}

// NewRedisStore connects and verifies the connection.
func NewRedisStore(addr, password string, db int, lockTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &RedisStore{client: client, lockTTL: lockTTL}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Response, error) {
	data, err := s.client.Get(ctx, resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *RedisStore) Lock(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, lockKey(key), time.Now().Unix(), s.lockTTL).Result()
}

// Complete writes the result and drops the lock in one transaction.
func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resultKey(key), data, ResultTTL)
		pipe.Del(ctx, lockKey(key))
		return nil
	})
	return err
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockKey(key)).Err()
}
