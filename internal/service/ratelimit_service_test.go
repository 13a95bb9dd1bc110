package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wei-Shaw/notifyhub/internal/config"
)

type stubRateLimitStore struct {
	result *AdmitResult
	err    error

	lastUserID  string
	lastChannel string
	lastLimit   int
}

func (s *stubRateLimitStore) Admit(_ context.Context, userID, channel string, _ time.Time, _ time.Duration, limit int, _ string) (*AdmitResult, error) {
	s.lastUserID = userID
	s.lastChannel = channel
	s.lastLimit = limit
	return s.result, s.err
}

func rateLimitTestConfig() *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{Quota: 50, WindowSeconds: 3600},
		Redis:     config.RedisConfig{OpTimeoutSeconds: 1},
	}
}

func TestRateLimitServiceAllowed(t *testing.T) {
	store := &stubRateLimitStore{result: &AdmitResult{Allowed: true, Remaining: 49, ResetTimeMS: time.Now().Add(time.Hour).UnixMilli()}}
	svc := NewRateLimitService(store, rateLimitTestConfig())

	d := svc.Admit(context.Background(), "u1", "email", "req-1")
	require.True(t, d.Allowed)
	require.Equal(t, 50, d.Limit)
	require.Equal(t, 49, d.Remaining)
	require.False(t, d.FailedOpen)
	require.Zero(t, d.RetryAfterSeconds)
	require.Equal(t, "u1", store.lastUserID)
	require.Equal(t, "email", store.lastChannel)
	require.Equal(t, 50, store.lastLimit)
}

func TestRateLimitServiceRejectedRetryAfterRoundsUp(t *testing.T) {
	reset := time.Now().Add(2500 * time.Millisecond).UnixMilli()
	store := &stubRateLimitStore{result: &AdmitResult{Allowed: false, Remaining: 0, ResetTimeMS: reset}}
	svc := NewRateLimitService(store, rateLimitTestConfig())

	d := svc.Admit(context.Background(), "u1", "email", "req-1")
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, reset/1000, d.ResetUnixSeconds)
	// ceil(2.5s) = 3; never tell a client to retry too early.
	require.Equal(t, 3, d.RetryAfterSeconds)
}

func TestRateLimitServiceRetryAfterNeverNegative(t *testing.T) {
	store := &stubRateLimitStore{result: &AdmitResult{Allowed: false, ResetTimeMS: time.Now().Add(-time.Second).UnixMilli()}}
	svc := NewRateLimitService(store, rateLimitTestConfig())

	d := svc.Admit(context.Background(), "u1", "email", "req-1")
	require.False(t, d.Allowed)
	require.GreaterOrEqual(t, d.RetryAfterSeconds, 0)
}

func TestRateLimitServiceFailsOpen(t *testing.T) {
	store := &stubRateLimitStore{err: errors.New("store down")}
	svc := NewRateLimitService(store, rateLimitTestConfig())

	d := svc.Admit(context.Background(), "u1", "email", "req-1")
	require.True(t, d.Allowed)
	require.True(t, d.FailedOpen)
	require.Equal(t, 49, d.Remaining)
	require.Greater(t, d.ResetUnixSeconds, time.Now().Unix())
}
