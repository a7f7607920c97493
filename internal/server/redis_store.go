package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAttemptStore shares login attempt counts across replicas through a
// Redis counter with a sliding expiry.
type redisAttemptStore struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisAttemptStore(addr, username, password string, timeout time.Duration) *redisAttemptStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &redisAttemptStore{client: client, timeout: timeout}
}

func (s *redisAttemptStore) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		expiry := window
		if expiry < time.Second {
			expiry = time.Second
		}
		if err := s.client.Expire(ctx, key, expiry).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (s *redisAttemptStore) Close() error {
	return s.client.Close()
}
