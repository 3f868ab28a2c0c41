// Package idempotency keeps provisioning results in Redis so a retried request
// with the same Idempotency-Key does not create a second account.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errors.New("redis_not_configured")
	}
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores payload unless key already holds a value; the first result wins.
func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	if s.client == nil {
		return errors.New("redis_not_configured")
	}
	return s.client.SetNX(ctx, key, payload, s.ttl).Err()
}
