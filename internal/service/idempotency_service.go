package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

// IdempotencyStore holds one cached response per (user, idempotency key).
// Get returns (nil, nil) on a miss.
type IdempotencyStore interface {
	Get(ctx context.Context, userID, key string) (*notification.Response, error)
	Put(ctx context.Context, userID, key string, resp *notification.Response, ttl time.Duration) error
}

// DeliveredStore is the worker-side at-most-once guard per idempotency key.
type DeliveredStore interface {
	Seen(ctx context.Context, userID, key string) (bool, error)
	Mark(ctx context.Context, userID, key string, ttl time.Duration) error
}

// IdempotencyService detects client-level retries on the ingress path. Both
// directions fail soft: a broken store never rejects a request, it only
// costs deduplication until the store recovers.
type IdempotencyService struct {
	store     IdempotencyStore
	ttl       time.Duration
	opTimeout time.Duration
}

func NewIdempotencyService(store IdempotencyStore, cfg *config.Config) *IdempotencyService {
	return &IdempotencyService{
		store:     store,
		ttl:       cfg.Idempotency.TTL(),
		opTimeout: cfg.Redis.OpTimeout(),
	}
}

// Probe returns the previously cached response for this key, or nil when the
// submission is new. Store errors are logged and treated as not-duplicate.
func (s *IdempotencyService) Probe(ctx context.Context, userID, key string) *notification.Response {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	resp, err := s.store.Get(opCtx, userID, key)
	if err != nil {
		slog.Warn("idempotency_probe_failed", "error", err, "user_id", userID)
		return nil
	}
	return resp
}

// Store caches resp under the request key. Called only after a successful
// publish; failure is logged but never surfaces, the enqueue already
// happened and delivery-side dedup covers the gap.
func (s *IdempotencyService) Store(ctx context.Context, userID, key string, resp *notification.Response) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.store.Put(opCtx, userID, key, resp, s.ttl); err != nil {
		slog.Error("idempotency_store_failed", "error", err, "user_id", userID, "notification_id", resp.ID)
	}
}

func (s *IdempotencyService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}
