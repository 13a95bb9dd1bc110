package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Wei-Shaw/notifyhub/internal/config"
)

var ErrNotConnected = errors.New("broker not connected")

// Client owns one AMQP connection and keeps it alive. On connection loss it
// reconnects with exponential backoff, redeclares the topology, and notifies
// subscribers so consumers can resubscribe.
type Client struct {
	url                string
	startupMaxAttempts int
	reconnectBase      time.Duration
	reconnectMax       time.Duration

	mu        sync.RWMutex
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	connected atomic.Bool

	// reconnected is closed and replaced on every successful reconnect.
	reconnected chan struct{}

	closeOnce sync.Once
	closing   chan struct{}
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		url:                cfg.Broker.URL,
		startupMaxAttempts: cfg.Broker.StartupMaxAttempts,
		reconnectBase:      cfg.Broker.ReconnectBase(),
		reconnectMax:       cfg.Broker.ReconnectMax(),
		reconnected:        make(chan struct{}),
		closing:            make(chan struct{}),
	}
}

// Connect dials the broker, retrying with exponential backoff up to the
// configured startup attempt budget. Once connected it starts the
// background reconnect watcher for the life of the client.
func (c *Client) Connect(ctx context.Context) error {
	delay := c.reconnectBase
	var lastErr error
	for attempt := 1; attempt <= c.startupMaxAttempts; attempt++ {
		if err := c.dial(); err != nil {
			lastErr = err
			slog.Warn("broker_connect_failed",
				"attempt", attempt,
				"max_attempts", c.startupMaxAttempts,
				"retry_in", delay.String(),
				"error", err,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = nextDelay(delay, c.reconnectMax)
			continue
		}
		slog.Info("broker_connected", "attempt", attempt)
		go c.watch()
		return nil
	}
	return lastErr
}

// dial opens the connection and the shared publish channel, then declares
// the topology.
func (c *Client) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := DeclareTopology(ch); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.pubCh = ch
	old := c.reconnected
	c.reconnected = make(chan struct{})
	c.mu.Unlock()
	c.connected.Store(true)
	close(old)
	return nil
}

// watch blocks on connection close notifications and reconnects forever
// until Close.
func (c *Client) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if !ok || closeErr == nil {
			// Clean shutdown via Close.
			return
		}
		c.connected.Store(false)
		slog.Error("broker_connection_lost", "error", closeErr)

		delay := c.reconnectBase
		for {
			select {
			case <-c.closing:
				return
			case <-time.After(delay):
			}
			if err := c.dial(); err != nil {
				slog.Warn("broker_reconnect_failed", "retry_in", delay.String(), "error", err)
				delay = nextDelay(delay, c.reconnectMax)
				continue
			}
			slog.Info("broker_reconnected")
			break
		}
	}
}

// IsConnected reports live broker connectivity. Feeds /health and /ready.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// PublishChannel returns the shared publisher channel.
func (c *Client) PublishChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected.Load() || c.pubCh == nil {
		return nil, ErrNotConnected
	}
	return c.pubCh, nil
}

// OpenChannel opens a dedicated channel on the current connection. Consumers
// use one channel each so Qos and channel-level errors stay isolated.
func (c *Client) OpenChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected.Load() || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn.Channel()
}

// Reconnected returns a channel closed on the next successful reconnect.
func (c *Client) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.connected.Store(false)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.pubCh = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
