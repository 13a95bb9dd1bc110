package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

// Disposition tells the consumer loop what to do with the current delivery.
// Retries are handled inside HandleDelivery (republish then ack), so the
// outcomes left are terminal except for shutdown-interrupted retries.
type Disposition int

const (
	// DispositionAck removes the message from the queue.
	DispositionAck Disposition = iota
	// DispositionDeadLetter nacks without requeue; the queue's DLX routes
	// the message to the dead-letter queue.
	DispositionDeadLetter
	// DispositionRequeue returns the message to its queue for redelivery.
	DispositionRequeue
)

// BackoffDelay computes the exponential retry delay for a message that has
// already failed retryCount times: base·2^retryCount, capped at max.
func BackoffDelay(retryCount int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// WorkerService is the per-message delivery pipeline: decode, delivered
// guard, sender invocation, retry-or-dead-letter decision.
type WorkerService struct {
	registry  *SenderRegistry
	delivered DeliveredStore
	publisher Publisher
	breakers  map[notification.Channel]*gobreaker.CircuitBreaker

	maxRetries    int
	retryBase     time.Duration
	retryMaxDelay time.Duration
	senderTimeout time.Duration
	deliveredTTL  time.Duration
	opTimeout     time.Duration

	// sleep is swapped out in tests; the default honors ctx cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorkerService(registry *SenderRegistry, delivered DeliveredStore, publisher Publisher, cfg *config.Config) *WorkerService {
	breakers := make(map[notification.Channel]*gobreaker.CircuitBreaker, len(notification.Channels))
	for _, ch := range notification.Channels {
		breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sender-" + ch.String(),
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 10
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("sender_breaker_state_changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return &WorkerService{
		registry:      registry,
		delivered:     delivered,
		publisher:     publisher,
		breakers:      breakers,
		maxRetries:    cfg.Worker.MaxRetries,
		retryBase:     cfg.Worker.RetryBase(),
		retryMaxDelay: cfg.Worker.RetryMaxDelay(),
		senderTimeout: cfg.Worker.SenderTimeout(),
		deliveredTTL:  cfg.Idempotency.DeliveredTTL(),
		opTimeout:     cfg.Redis.OpTimeout(),
		sleep:         sleepContext,
	}
}

// HandleDelivery processes one broker delivery. headerRetryCount, when
// present, overrides the body's retryCount (the header mirror wins because
// republishes always refresh it).
func (s *WorkerService) HandleDelivery(ctx context.Context, body []byte, headerRetryCount *int) Disposition {
	var msg notification.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		slog.Error("worker_decode_failed", "error", err)
		return DispositionDeadLetter
	}
	if headerRetryCount != nil {
		msg.RetryCount = *headerRetryCount
	}

	log := slog.With(
		"notification_id", msg.ID,
		"channel", msg.Type,
		"user_id", msg.UserID,
		"retry_count", msg.RetryCount,
	)

	if s.alreadyDelivered(ctx, &msg) {
		log.Info("worker_duplicate_skipped")
		return DispositionAck
	}

	sender, ok := s.registry.Lookup(msg.Type)
	if !ok {
		log.Error("worker_unknown_channel")
		return DispositionDeadLetter
	}

	err := s.invokeSender(ctx, sender, msg.Payload)
	if err == nil {
		s.markDelivered(ctx, &msg)
		log.Info("worker_delivered", "attempt", msg.RetryCount+1)
		return DispositionAck
	}

	if IsTerminal(err) {
		log.Error("worker_terminal_failure", "error", err)
		return DispositionDeadLetter
	}
	if msg.RetryCount >= s.maxRetries {
		log.Error("worker_retries_exhausted", "error", err, "attempts", msg.RetryCount+1)
		return DispositionDeadLetter
	}
	return s.scheduleRetry(ctx, &msg, err, log)
}

func (s *WorkerService) alreadyDelivered(ctx context.Context, msg *notification.QueueMessage) bool {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	seen, err := s.delivered.Seen(opCtx, msg.UserID, msg.IdempotencyKey)
	if err != nil {
		// Guard unavailable: proceed and rely on at-least-once semantics.
		slog.Warn("worker_delivered_check_failed", "error", err, "notification_id", msg.ID)
		return false
	}
	return seen
}

func (s *WorkerService) markDelivered(ctx context.Context, msg *notification.QueueMessage) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.delivered.Mark(opCtx, msg.UserID, msg.IdempotencyKey, s.deliveredTTL); err != nil {
		slog.Error("worker_delivered_mark_failed", "error", err, "notification_id", msg.ID)
	}
}

// invokeSender runs the sender behind a per-channel circuit breaker with a
// bounded timeout. Panics and unclassified failures count as retriable.
func (s *WorkerService) invokeSender(ctx context.Context, sender Sender, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RetriableError(fmt.Errorf("sender panic: %v", r))
		}
	}()

	sendCtx := ctx
	if s.senderTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.senderTimeout)
		defer cancel()
	}

	_, err = s.breakers[sender.Channel()].Execute(func() (any, error) {
		return nil, sender.Send(sendCtx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return RetriableError(err)
	}
	return err
}

// scheduleRetry waits out the backoff, republishes with an incremented
// retry count, and acks the original delivery. A failed republish
// dead-letters the message so it is never silently lost.
func (s *WorkerService) scheduleRetry(ctx context.Context, msg *notification.QueueMessage, cause error, log *slog.Logger) Disposition {
	delay := BackoffDelay(msg.RetryCount, s.retryBase, s.retryMaxDelay)
	log.Warn("worker_retry_scheduled",
		"error", cause,
		"delay", delay.String(),
		"next_attempt", msg.RetryCount+2,
		"max_attempts", s.maxRetries+1,
	)

	if err := s.sleep(ctx, delay); err != nil {
		// Shutting down: put the message back so another worker picks
		// it up with the same retry count.
		log.Warn("worker_retry_interrupted", "error", err)
		return DispositionRequeue
	}

	retry := msg.WithRetry()
	if err := s.publisher.Publish(ctx, retry.Type, retry); err != nil {
		log.Error("worker_retry_publish_failed", "error", err)
		return DispositionDeadLetter
	}
	return DispositionAck
}

func (s *WorkerService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
