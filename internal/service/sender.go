package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wei-Shaw/notifyhub/internal/notification"
)

// Sender delivers one payload over one channel. Implementations classify
// failures by wrapping them with TerminalError or RetriableError; anything
// unclassified is treated as retriable.
type Sender interface {
	Channel() notification.Channel
	Send(ctx context.Context, payload json.RawMessage) error
}

type sendError struct {
	terminal bool
	err      error
}

func (e *sendError) Error() string {
	if e.terminal {
		return fmt.Sprintf("terminal send error: %v", e.err)
	}
	return fmt.Sprintf("retriable send error: %v", e.err)
}

func (e *sendError) Unwrap() error { return e.err }

// TerminalError marks err as not worth retrying: malformed recipients,
// auth rejections, permanent upstream 4xx.
func TerminalError(err error) error {
	return &sendError{terminal: true, err: err}
}

// RetriableError marks err as transient: network failures, upstream 5xx,
// throttling.
func RetriableError(err error) error {
	return &sendError{terminal: false, err: err}
}

// IsTerminal reports whether err was classified terminal. Unclassified
// errors are retriable.
func IsTerminal(err error) bool {
	var se *sendError
	if errors.As(err, &se) {
		return se.terminal
	}
	return false
}

// SenderRegistry maps channels to their senders.
type SenderRegistry struct {
	senders map[notification.Channel]Sender
}

func NewSenderRegistry(senders ...Sender) *SenderRegistry {
	reg := &SenderRegistry{senders: make(map[notification.Channel]Sender, len(senders))}
	for _, s := range senders {
		reg.senders[s.Channel()] = s
	}
	return reg
}

func (r *SenderRegistry) Lookup(channel notification.Channel) (Sender, bool) {
	s, ok := r.senders[channel]
	return s, ok
}
