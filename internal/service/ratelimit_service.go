package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Wei-Shaw/notifyhub/internal/config"
)

// AdmitResult is the raw outcome of one atomic sliding-window admission.
type AdmitResult struct {
	Allowed   bool
	Remaining int
	// ResetTimeMS is when the oldest admitted request leaves the window,
	// in ms since epoch.
	ResetTimeMS int64
}

// RateLimitStore executes the admission atomically against the shared
// store. Concurrent Admit calls on the same (user, channel) must serialize
// server-side.
type RateLimitStore interface {
	Admit(ctx context.Context, userID, channel string, now time.Time, window time.Duration, limit int, requestID string) (*AdmitResult, error)
}

// RateLimitDecision is what the HTTP layer needs: the verdict plus the
// X-RateLimit-* header values.
type RateLimitDecision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetUnixSeconds  int64
	RetryAfterSeconds int
	// FailedOpen marks an admission granted because the store was
	// unreachable. The limiter is a soft safeguard, not a security
	// boundary.
	FailedOpen bool
}

// RateLimitService admits requests against a per-(user,channel) quota over
// a rolling window.
type RateLimitService struct {
	store     RateLimitStore
	quota     int
	window    time.Duration
	opTimeout time.Duration
}

func NewRateLimitService(store RateLimitStore, cfg *config.Config) *RateLimitService {
	return &RateLimitService{
		store:     store,
		quota:     cfg.RateLimit.Quota,
		window:    cfg.RateLimit.Window(),
		opTimeout: cfg.Redis.OpTimeout(),
	}
}

// Admit decides whether this request may proceed. Store failures admit the
// request (fail-open) and are logged.
func (s *RateLimitService) Admit(ctx context.Context, userID, channel, requestID string) *RateLimitDecision {
	now := time.Now()

	opCtx := ctx
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}

	res, err := s.store.Admit(opCtx, userID, channel, now, s.window, s.quota, requestID)
	if err != nil {
		slog.Warn("rate_limit_fail_open", "error", err, "user_id", userID, "channel", channel)
		return &RateLimitDecision{
			Allowed:          true,
			Limit:            s.quota,
			Remaining:        s.quota - 1,
			ResetUnixSeconds: now.Add(s.window).Unix(),
			FailedOpen:       true,
		}
	}

	decision := &RateLimitDecision{
		Allowed:          res.Allowed,
		Limit:            s.quota,
		Remaining:        res.Remaining,
		ResetUnixSeconds: res.ResetTimeMS / 1000,
	}
	if !res.Allowed {
		retryMS := res.ResetTimeMS - now.UnixMilli()
		if retryMS < 0 {
			retryMS = 0
		}
		// Round up so clients never retry a moment too early.
		decision.RetryAfterSeconds = int((retryMS + 999) / 1000)
	}
	return decision
}

func (s *RateLimitService) Quota() int { return s.quota }
