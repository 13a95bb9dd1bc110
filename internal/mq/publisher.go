package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

// Headers mirrored on every published message. The retry count rides in a
// header as well as the body so retries can be observed without decoding,
// and the header wins on read.
const (
	HeaderRetryCount     = "x-retry-count"
	HeaderIdempotencyKey = "x-idempotency-key"
)

// Publisher implements service.Publisher over the shared client channel.
// Messages are persistent, so an accepted publish survives a broker restart.
type Publisher struct {
	client         *Client
	publishTimeout time.Duration
}

func NewPublisher(client *Client, cfg *config.Config) *Publisher {
	return &Publisher{
		client:         client,
		publishTimeout: cfg.Broker.PublishTimeout(),
	}
}

func (p *Publisher) Publish(ctx context.Context, channel notification.Channel, msg *notification.QueueMessage) error {
	ch, err := p.client.PublishChannel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}

	if p.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	return ch.PublishWithContext(ctx, Exchange, channel.String(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.UnixMilli(msg.Timestamp),
		Headers: amqp.Table{
			HeaderRetryCount:     int32(msg.RetryCount),
			HeaderIdempotencyKey: msg.IdempotencyKey,
		},
		Body: body,
	})
}

func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}
