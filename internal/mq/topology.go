// Package mq is the durable queue fabric on top of RabbitMQ: topology
// declaration, a self-reconnecting client, the persistent publisher used by
// the ingress, and the manual-ack consumer used by the worker.
package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

const (
	// Exchange routes messages to per-channel queues by routing key.
	Exchange = "notifications.exchange"
	// DeadLetterExchange receives rejected and exhausted messages.
	DeadLetterExchange = "notifications.dlx"
	// DeadLetterQueue parks dead messages for manual inspection.
	DeadLetterQueue = "notifications.dlq"
	// DeadLetterRoutingKey binds the DLQ to the DLX.
	DeadLetterRoutingKey = "dead"

	queuePrefix = "notifications."
)

// QueueName returns the durable queue for a channel, e.g. "notifications.email".
func QueueName(ch notification.Channel) string {
	return queuePrefix + ch.String()
}

// DeclareTopology declares the full broker topology. Declarations are
// idempotent, so both the server and the worker run this on every
// (re)connect and whichever starts first wins.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", DeadLetterQueue, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}
	for _, channel := range notification.Channels {
		queue := QueueName(channel)
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, channel.String(), Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}
