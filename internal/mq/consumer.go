package mq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
	"github.com/Wei-Shaw/notifyhub/internal/service"
)

// reconnectRecheckInterval bounds how long a consumer can sit on a stale
// reconnect signal before re-testing connectivity directly.
const reconnectRecheckInterval = time.Second

// Consumer drains the per-channel queues and applies the worker service's
// disposition to each delivery. One goroutine and one AMQP channel per
// notification channel; Qos bounds in-flight messages per consumer.
type Consumer struct {
	client   *Client
	worker   *service.WorkerService
	prefetch int
}

func NewConsumer(client *Client, worker *service.WorkerService, cfg *config.Config) *Consumer {
	return &Consumer{
		client:   client,
		worker:   worker,
		prefetch: cfg.Worker.Prefetch,
	}
}

// Run consumes all channels until ctx is cancelled. Subscription loss (broker
// restart, channel-level error) triggers a resubscribe once the client has
// reconnected.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, channel := range notification.Channels {
		channel := channel
		g.Go(func() error {
			return c.consumeLoop(ctx, channel)
		})
	}
	return g.Wait()
}

func (c *Consumer) consumeLoop(ctx context.Context, channel notification.Channel) error {
	queue := QueueName(channel)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, amqpCh, err := c.subscribe(queue)
		if err != nil {
			slog.Warn("consumer_subscribe_failed", "queue", queue, "error", err)
			if err := c.awaitReconnect(ctx); err != nil {
				return err
			}
			continue
		}
		slog.Info("consumer_started", "queue", queue, "prefetch", c.prefetch)

		if err := c.drain(ctx, deliveries); err != nil {
			amqpCh.Close()
			return err
		}
		// Delivery stream closed underneath us: resubscribe.
		amqpCh.Close()
		slog.Warn("consumer_stream_closed", "queue", queue)
	}
}

func (c *Consumer) subscribe(queue string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	amqpCh, err := c.client.OpenChannel()
	if err != nil {
		return nil, nil, err
	}
	if err := amqpCh.Qos(c.prefetch, 0, false); err != nil {
		amqpCh.Close()
		return nil, nil, err
	}
	deliveries, err := amqpCh.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		amqpCh.Close()
		return nil, nil, err
	}
	return deliveries, amqpCh, nil
}

// drain processes deliveries until the stream closes (nil error) or ctx is
// cancelled. Handling runs on a pool bounded to the prefetch count, so a
// message sitting in its retry backoff never blocks the rest of the window.
// On cancellation in-flight unacked messages return to the queue when the
// channel closes.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	pool := new(errgroup.Group)
	pool.SetLimit(c.prefetch)
	defer func() { _ = pool.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			// Go blocks once prefetch handlers are in flight; the broker
			// holds further deliveries against the unacked window anyway.
			pool.Go(func() error {
				c.handle(ctx, d)
				return nil
			})
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	disposition := c.worker.HandleDelivery(ctx, d.Body, headerRetryCount(d.Headers))
	switch disposition {
	case service.DispositionAck:
		if err := d.Ack(false); err != nil {
			slog.Error("consumer_ack_failed", "message_id", d.MessageId, "error", err)
		}
	case service.DispositionDeadLetter:
		// requeue=false routes through the queue's dead letter exchange.
		if err := d.Nack(false, false); err != nil {
			slog.Error("consumer_nack_failed", "message_id", d.MessageId, "error", err)
		}
	case service.DispositionRequeue:
		if err := d.Nack(false, true); err != nil {
			slog.Error("consumer_requeue_failed", "message_id", d.MessageId, "error", err)
		}
	}
}

// awaitReconnect waits until the client is connected again. Connectivity is
// rechecked on a timer as well as on the reconnect signal: a dial that
// completed between the failed subscribe and this call swaps in a fresh
// signal channel, and waiting on that alone would miss the wakeup.
func (c *Consumer) awaitReconnect(ctx context.Context) error {
	ticker := time.NewTicker(reconnectRecheckInterval)
	defer ticker.Stop()
	for {
		if c.client.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.client.Reconnected():
			return nil
		case <-ticker.C:
		}
	}
}

// headerRetryCount extracts x-retry-count, tolerating the integer widths
// different publishers use. Absent or malformed headers return nil and the
// body's count stands.
func headerRetryCount(headers amqp.Table) *int {
	raw, ok := headers[HeaderRetryCount]
	if !ok {
		return nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int8:
		n = int(v)
	case int16:
		n = int(v)
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}
