package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/handler"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
	"github.com/Wei-Shaw/notifyhub/internal/repository"
	"github.com/Wei-Shaw/notifyhub/internal/server"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

type recordingPublisher struct {
	published []*notification.QueueMessage
	err       error
	connected bool
}

func (p *recordingPublisher) Publish(_ context.Context, _ notification.Channel, msg *notification.QueueMessage) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) IsConnected() bool { return p.connected }

type envelope struct {
	Success bool `json:"success"`
	Data    struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func testConfig(quota int) *config.Config {
	return &config.Config{
		Server:      config.ServerConfig{Mode: gin.TestMode, Env: config.EnvDevelopment, ShutdownTimeoutSeconds: 1},
		RateLimit:   config.RateLimitConfig{Quota: quota, WindowSeconds: 3600},
		Idempotency: config.IdempotencyConfig{TTLSeconds: 86400},
		Redis:       config.RedisConfig{OpTimeoutSeconds: 1},
	}
}

func newTestRouter(t *testing.T, quota int, pub *recordingPublisher) *gin.Engine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(quota)
	rateLimit := service.NewRateLimitService(repository.NewRateLimitStore(rdb), cfg)
	idempotency := service.NewIdempotencyService(repository.NewIdempotencyStore(rdb), cfg)
	enqueue := service.NewEnqueueService(idempotency, pub)

	return server.SetupRouter(cfg, &server.Handlers{
		Notification: handler.NewNotificationHandler(rateLimit, enqueue),
		Health:       handler.NewHealthHandler(pub),
	})
}

func postNotification(r *gin.Engine, channel, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/notifications/"+channel, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

const validEmailBody = `{"userId":"u1","idempotencyKey":"k1","payload":{"to":"a@b.co","subject":"s","body":"b"}}`

func TestSendEmailAccepted(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "email", validEmailBody)
	require.Equal(t, http.StatusAccepted, w.Code)

	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	require.Equal(t, notification.StatusQueued, env.Data.Status)
	require.NotEmpty(t, env.Data.ID)

	require.Equal(t, "50", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "49", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	require.Len(t, pub.published, 1)
	require.Equal(t, env.Data.ID, pub.published[0].ID)
}

func TestSendDuplicateReturns200WithSameID(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	first := decodeEnvelope(t, postNotification(r, "email", validEmailBody))

	w := postNotification(r, "email", validEmailBody)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	require.Equal(t, notification.StatusDuplicate, env.Data.Status)
	require.Equal(t, first.Data.ID, env.Data.ID)
	require.Len(t, pub.published, 1, "duplicate must not publish again")
}

func TestSendMissingUserID(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "email", `{"idempotencyKey":"k1","payload":{"to":"a@b.co","subject":"s","body":"b"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	require.Equal(t, "userId required for rate limiting", env.Error.Message)
	require.Empty(t, pub.published)
}

func TestSendMissingIdempotencyKey(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "email", `{"userId":"u1","payload":{"to":"a@b.co","subject":"s","body":"b"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "MISSING_IDEMPOTENCY_KEY", decodeEnvelope(t, w).Error.Code)
}

func TestSendValidationFailureHasFieldDetails(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "email", `{"userId":"u1","idempotencyKey":"k1","payload":{"to":"nope","subject":"","body":"b"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	var fields []notification.FieldError
	require.NoError(t, json.Unmarshal(env.Error.Details, &fields))
	require.NotEmpty(t, fields)
	require.Empty(t, pub.published, "validation failures must have no side effects")
}

func TestSendUnknownChannel(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "fax", validEmailBody)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "UNKNOWN_CHANNEL", decodeEnvelope(t, w).Error.Code)
}

func TestSendRateLimited(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 2, pub)

	for i, key := range []string{"k1", "k2"} {
		body := `{"userId":"u1","idempotencyKey":"` + key + `","payload":{"to":"a@b.co","subject":"s","body":"b"}}`
		w := postNotification(r, "email", body)
		require.Equal(t, http.StatusAccepted, w.Code, "request %d within quota", i)
	}

	w := postNotification(r, "email", `{"userId":"u1","idempotencyKey":"k3","payload":{"to":"a@b.co","subject":"s","body":"b"}}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	env := decodeEnvelope(t, w)
	require.Equal(t, "RATE_LIMITED", env.Error.Code)
	var details struct {
		RetryAfter int `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	require.Greater(t, details.RetryAfter, 0)
	require.Len(t, pub.published, 2, "rejected request must not publish")
}

func TestSendPublishFailure(t *testing.T) {
	pub := &recordingPublisher{connected: true, err: errors.New("broker gone")}
	r := newTestRouter(t, 50, pub)

	w := postNotification(r, "email", validEmailBody)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "PUBLISH_FAILED", decodeEnvelope(t, w).Error.Code)

	// The key must stay free for a client retry.
	pub.err = nil
	w = postNotification(r, "email", validEmailBody)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"broker":"connected"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	pub.connected = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"broker":"disconnected"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	pub := &recordingPublisher{connected: true}
	r := newTestRouter(t, 50, pub)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/email", bytes.NewBufferString(validEmailBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}
