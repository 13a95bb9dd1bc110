package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Wei-Shaw/notifyhub/internal/notification"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	deliveredKeyPrefix   = "delivered:"
)

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("%s%s:%s", idempotencyKeyPrefix, userID, key)
}

func deliveredKey(userID, key string) string {
	return fmt.Sprintf("%s%s:%s", deliveredKeyPrefix, userID, key)
}

type idempotencyStore struct {
	rdb *redis.Client
}

// NewIdempotencyStore backs the ingress-side response cache. Entries are
// written once per successful publish and read-only until TTL expiry.
func NewIdempotencyStore(rdb *redis.Client) service.IdempotencyStore {
	return &idempotencyStore{rdb: rdb}
}

func (s *idempotencyStore) Get(ctx context.Context, userID, key string) (*notification.Response, error) {
	raw, err := s.rdb.Get(ctx, idempotencyKey(userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get: %w", err)
	}
	var resp notification.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &resp, nil
}

func (s *idempotencyStore) Put(ctx context.Context, userID, key string, resp *notification.Response, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.rdb.Set(ctx, idempotencyKey(userID, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set: %w", err)
	}
	return nil
}

type deliveredStore struct {
	rdb *redis.Client
}

// NewDeliveredStore backs the worker-side at-most-once guard. A tombstone
// under delivered:{userId}:{idempotencyKey} means the sender already ran
// for that key.
func NewDeliveredStore(rdb *redis.Client) service.DeliveredStore {
	return &deliveredStore{rdb: rdb}
}

func (s *deliveredStore) Seen(ctx context.Context, userID, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, deliveredKey(userID, key)).Result()
	if err != nil {
		return false, fmt.Errorf("delivered exists: %w", err)
	}
	return n > 0, nil
}

func (s *deliveredStore) Mark(ctx context.Context, userID, key string, ttl time.Duration) error {
	if err := s.rdb.SetEx(ctx, deliveredKey(userID, key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("delivered setex: %w", err)
	}
	return nil
}
