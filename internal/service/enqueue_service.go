package service

import (
	"context"
	"log/slog"

	infraerrors "github.com/Wei-Shaw/notifyhub/internal/pkg/errors"

	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

var ErrPublishFailed = infraerrors.InternalServer("PUBLISH_FAILED", "failed to enqueue notification")

// Publisher hands a message to the durable queue fabric. Implementations
// must publish persistently and return an error when the broker did not
// accept the message.
type Publisher interface {
	Publish(ctx context.Context, channel notification.Channel, msg *notification.QueueMessage) error
	IsConnected() bool
}

// EnqueueResult carries the client response plus whether it was replayed
// from the idempotency cache (200) or freshly queued (202).
type EnqueueResult struct {
	Response  *notification.Response
	Duplicate bool
}

// EnqueueService is the ingress pipeline tail: idempotency probe, durable
// publish, idempotency store.
type EnqueueService struct {
	idempotency *IdempotencyService
	publisher   Publisher
}

func NewEnqueueService(idempotency *IdempotencyService, publisher Publisher) *EnqueueService {
	return &EnqueueService{idempotency: idempotency, publisher: publisher}
}

// Enqueue publishes a validated, admitted request. A concurrent first
// submission with the same key can slip past the probe and publish twice;
// the worker's delivered guard is the authoritative deduper at the sender
// boundary.
func (s *EnqueueService) Enqueue(ctx context.Context, channel notification.Channel, req *notification.Request) (*EnqueueResult, error) {
	if cached := s.idempotency.Probe(ctx, req.UserID, req.IdempotencyKey); cached != nil {
		dup := *cached
		dup.Status = notification.StatusDuplicate
		dup.Message = "notification already queued"
		return &EnqueueResult{Response: &dup, Duplicate: true}, nil
	}

	msg := notification.NewQueueMessage(channel, req)
	if err := s.publisher.Publish(ctx, channel, msg); err != nil {
		slog.Error("notification_publish_failed", "error", err, "channel", channel, "notification_id", msg.ID)
		// No idempotency store on failure: the client must be able to
		// retry the same key once the broker is back.
		return nil, ErrPublishFailed.WithCause(err)
	}

	resp := &notification.Response{
		ID:      msg.ID,
		Status:  notification.StatusQueued,
		Message: "notification queued for delivery",
	}
	s.idempotency.Store(ctx, req.UserID, req.IdempotencyKey, resp)

	slog.Info("notification_queued",
		"notification_id", msg.ID,
		"channel", channel,
		"user_id", req.UserID,
	)
	return &EnqueueResult{Response: resp}, nil
}
