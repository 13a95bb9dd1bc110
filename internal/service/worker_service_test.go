package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

type memoryDeliveredStore struct {
	marks   map[string]bool
	seenErr error
	markErr error
}

func newMemoryDeliveredStore() *memoryDeliveredStore {
	return &memoryDeliveredStore{marks: make(map[string]bool)}
}

func (s *memoryDeliveredStore) Seen(_ context.Context, userID, key string) (bool, error) {
	if s.seenErr != nil {
		return false, s.seenErr
	}
	return s.marks[userID+"/"+key], nil
}

func (s *memoryDeliveredStore) Mark(_ context.Context, userID, key string, _ time.Duration) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marks[userID+"/"+key] = true
	return nil
}

type funcSender struct {
	channel notification.Channel
	send    func(ctx context.Context, payload json.RawMessage) error
	calls   int
}

func (s *funcSender) Channel() notification.Channel { return s.channel }

func (s *funcSender) Send(ctx context.Context, payload json.RawMessage) error {
	s.calls++
	return s.send(ctx, payload)
}

func workerTestConfig() *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			MaxRetries:           5,
			RetryBaseMS:          1000,
			RetryMaxDelayMS:      16000,
			Prefetch:             5,
			SenderTimeoutSeconds: 5,
		},
		Idempotency: config.IdempotencyConfig{TTLSeconds: 86400},
		Redis:       config.RedisConfig{OpTimeoutSeconds: 1},
	}
}

type workerHarness struct {
	svc       *WorkerService
	delivered *memoryDeliveredStore
	publisher *fakePublisher
	sender    *funcSender
	delays    []time.Duration
}

func newWorkerHarness(t *testing.T, send func(ctx context.Context, payload json.RawMessage) error) *workerHarness {
	t.Helper()
	h := &workerHarness{
		delivered: newMemoryDeliveredStore(),
		publisher: &fakePublisher{connected: true},
		sender:    &funcSender{channel: notification.ChannelEmail, send: send},
	}
	h.svc = NewWorkerService(NewSenderRegistry(h.sender), h.delivered, h.publisher, workerTestConfig())
	h.svc.sleep = func(_ context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return nil
	}
	return h
}

func queueMessageBody(t *testing.T, retryCount int) []byte {
	t.Helper()
	msg := &notification.QueueMessage{
		ID:             "n-1",
		Type:           notification.ChannelEmail,
		UserID:         "u1",
		IdempotencyKey: "k1",
		Payload:        json.RawMessage(`{"to":"a@b.co","subject":"s","body":"b"}`),
		Timestamp:      time.Now().UnixMilli(),
		RetryCount:     retryCount,
	}
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return body
}

func TestWorkerDeliverySuccess(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error { return nil })

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionAck, d)
	require.Equal(t, 1, h.sender.calls)
	require.True(t, h.delivered.marks["u1/k1"])
	require.Empty(t, h.publisher.published)
}

func TestWorkerMalformedBodyDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error { return nil })

	d := h.svc.HandleDelivery(context.Background(), []byte("{not json"), nil)
	require.Equal(t, DispositionDeadLetter, d)
	require.Zero(t, h.sender.calls)
}

func TestWorkerDeliveredGuardSkipsSender(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error { return nil })
	h.delivered.marks["u1/k1"] = true

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionAck, d)
	require.Zero(t, h.sender.calls, "sender must not run for an already-delivered key")
}

func TestWorkerGuardErrorProceeds(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error { return nil })
	h.delivered.seenErr = errors.New("store down")

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionAck, d)
	require.Equal(t, 1, h.sender.calls)
}

func TestWorkerUnknownChannelDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error { return nil })

	body := []byte(`{"id":"n-1","type":"fax","userId":"u1","idempotencyKey":"k1","payload":{},"timestamp":1,"retryCount":0}`)
	d := h.svc.HandleDelivery(context.Background(), body, nil)
	require.Equal(t, DispositionDeadLetter, d)
}

func TestWorkerRetriableFailureRepublishes(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return RetriableError(errors.New("provider 503"))
	})

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 2), nil)
	require.Equal(t, DispositionAck, d, "original is acked after republish")

	require.Len(t, h.publisher.published, 1)
	require.Equal(t, 3, h.publisher.published[0].RetryCount)
	require.Equal(t, []time.Duration{4 * time.Second}, h.delays)
	require.False(t, h.delivered.marks["u1/k1"])
}

func TestWorkerExhaustedRetriesDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return RetriableError(errors.New("provider 503"))
	})

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 5), nil)
	require.Equal(t, DispositionDeadLetter, d)
	require.Empty(t, h.publisher.published)
}

func TestWorkerTerminalFailureDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return TerminalError(errors.New("recipient rejected"))
	})

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionDeadLetter, d)
	require.Empty(t, h.publisher.published, "terminal failures skip the retry path")
}

func TestWorkerUnclassifiedErrorIsRetriable(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return errors.New("plain failure")
	})

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionAck, d)
	require.Len(t, h.publisher.published, 1)
}

func TestWorkerSenderPanicIsRetriable(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		panic("sender blew up")
	})

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionAck, d)
	require.Len(t, h.publisher.published, 1)
	require.Equal(t, 1, h.publisher.published[0].RetryCount)
}

func TestWorkerHeaderRetryCountOverridesBody(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return RetriableError(errors.New("provider 503"))
	})

	header := 5
	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), &header)
	require.Equal(t, DispositionDeadLetter, d, "header count says attempts are exhausted")
	require.Empty(t, h.publisher.published)
}

func TestWorkerRepublishFailureDeadLetters(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return RetriableError(errors.New("provider 503"))
	})
	h.publisher.err = errors.New("broker gone")

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionDeadLetter, d, "a message that cannot be rescheduled must not be lost")
}

func TestWorkerInterruptedRetryRequeues(t *testing.T) {
	h := newWorkerHarness(t, func(context.Context, json.RawMessage) error {
		return RetriableError(errors.New("provider 503"))
	})
	h.svc.sleep = func(context.Context, time.Duration) error {
		return context.Canceled
	}

	d := h.svc.HandleDelivery(context.Background(), queueMessageBody(t, 0), nil)
	require.Equal(t, DispositionRequeue, d)
	require.Empty(t, h.publisher.published)
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := time.Second
	max := 16 * time.Second
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		16 * time.Second,
		16 * time.Second,
	}
	for n, expected := range want {
		require.Equal(t, expected, BackoffDelay(n, base, max), "retryCount=%d", n)
	}
}
