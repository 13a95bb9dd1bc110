// Package notification defines the domain model shared by the ingress and
// the worker: inbound requests, per-channel payloads, and the queue message
// that travels through the broker.
package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium with its own queue and sender. Channel values
// are on-the-wire identifiers: they are broker routing keys and the last
// path segment of the ingress URLs.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Channels lists every delivery channel in queue-declaration order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush}

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

func (c Channel) String() string { return string(c) }

// Request is the inbound notification-send request. Payload stays raw until
// the channel is known; per-channel validation decodes it.
type Request struct {
	UserID         string          `json:"userId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
}

type EmailPayload struct {
	To      string   `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	CC      []string `json:"cc,omitempty"`
	BCC     []string `json:"bcc,omitempty"`
}

type SMSPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type PushPayload struct {
	DeviceToken string            `json:"deviceToken"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// QueueMessage is the on-wire message. The broker exclusively owns it
// between publish and ack.
type QueueMessage struct {
	ID             string          `json:"id"`
	Type           Channel         `json:"type"`
	UserID         string          `json:"userId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload"`
	// Timestamp is milliseconds since epoch at enqueue time.
	Timestamp  int64 `json:"timestamp"`
	RetryCount int   `json:"retryCount"`
}

// NewQueueMessage builds a fresh message for the first delivery attempt.
func NewQueueMessage(channel Channel, req *Request) *QueueMessage {
	return &QueueMessage{
		ID:             uuid.NewString(),
		Type:           channel,
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
		Timestamp:      time.Now().UnixMilli(),
		RetryCount:     0,
	}
}

// WithRetry returns a copy scheduled for the next attempt.
func (m *QueueMessage) WithRetry() *QueueMessage {
	cp := *m
	cp.RetryCount = m.RetryCount + 1
	return &cp
}

// Response statuses.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
)

// Response is returned to the client and cached under the idempotency key.
type Response struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
