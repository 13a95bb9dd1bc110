package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/Wei-Shaw/notifyhub/internal/config"
	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

// The mock senders stand in for real SMTP / SMS-gateway / push-provider
// integrations. They validate recipients (terminal on garbage), log the
// send, and support two failure-injection hooks for exercising the retry
// engine: force_failure (every send fails retriably) and failure_rate
// (random retriable failures).

var errForcedFailure = errors.New("forced failure for testing retry mechanism")

type failureInjector struct {
	force bool
	rate  float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newFailureInjector(cfg *config.Config, seed int64) *failureInjector {
	return &failureInjector{
		force: cfg.Worker.ForceFailure,
		rate:  cfg.Worker.FailureRate,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (f *failureInjector) fail() error {
	if f.force {
		return RetriableError(errForcedFailure)
	}
	if f.rate > 0 {
		f.mu.Lock()
		hit := f.rng.Float64() < f.rate
		f.mu.Unlock()
		if hit {
			return RetriableError(errors.New("simulated provider failure"))
		}
	}
	return nil
}

type emailSender struct {
	inject *failureInjector
}

func NewEmailSender(cfg *config.Config) Sender {
	return &emailSender{inject: newFailureInjector(cfg, rand.Int63())}
}

func (s *emailSender) Channel() notification.Channel { return notification.ChannelEmail }

func (s *emailSender) Send(ctx context.Context, payload json.RawMessage) error {
	var p notification.EmailPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TerminalError(err)
	}
	if !notification.IsValidEmailAddress(p.To) {
		return TerminalError(errors.New("malformed recipient address"))
	}
	if err := s.inject.fail(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return RetriableError(err)
	}
	slog.Info("email_sent", "to", p.To, "subject", p.Subject, "body_len", len(p.Body))
	return nil
}

type smsSender struct {
	inject *failureInjector
}

func NewSMSSender(cfg *config.Config) Sender {
	return &smsSender{inject: newFailureInjector(cfg, rand.Int63())}
}

func (s *smsSender) Channel() notification.Channel { return notification.ChannelSMS }

func (s *smsSender) Send(ctx context.Context, payload json.RawMessage) error {
	var p notification.SMSPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TerminalError(err)
	}
	if len(strings.TrimSpace(p.To)) < 10 {
		return TerminalError(errors.New("malformed phone number"))
	}
	if err := s.inject.fail(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return RetriableError(err)
	}
	slog.Info("sms_sent", "to", p.To, "message_len", len(p.Message))
	return nil
}

type pushSender struct {
	inject *failureInjector
}

func NewPushSender(cfg *config.Config) Sender {
	return &pushSender{inject: newFailureInjector(cfg, rand.Int63())}
}

func (s *pushSender) Channel() notification.Channel { return notification.ChannelPush }

func (s *pushSender) Send(ctx context.Context, payload json.RawMessage) error {
	var p notification.PushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return TerminalError(err)
	}
	if strings.TrimSpace(p.DeviceToken) == "" {
		return TerminalError(errors.New("missing device token"))
	}
	if err := s.inject.fail(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return RetriableError(err)
	}
	slog.Info("push_sent", "device_token", truncateToken(p.DeviceToken), "title", p.Title)
	return nil
}

func truncateToken(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
