package notification

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxSMSLength = 160

// FieldError is a single validation failure, surfaced verbatim to clients.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates field-level failures for one request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ValidatePayload decodes and validates the raw payload for the given
// channel. The returned error is always a *ValidationError.
func ValidatePayload(channel Channel, raw json.RawMessage) error {
	ve := &ValidationError{}
	if len(raw) == 0 {
		ve.add("payload", "payload is required")
		return ve
	}

	switch channel {
	case ChannelEmail:
		var p EmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			ve.add("payload", "payload must be a valid email payload object")
			return ve
		}
		validateEmail(&p, ve)
	case ChannelSMS:
		var p SMSPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			ve.add("payload", "payload must be a valid sms payload object")
			return ve
		}
		validateSMS(&p, ve)
	case ChannelPush:
		var p PushPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			ve.add("payload", "payload must be a valid push payload object")
			return ve
		}
		validatePush(&p, ve)
	default:
		ve.add("channel", fmt.Sprintf("unknown channel %q", channel))
	}
	return ve.orNil()
}

func validateEmail(p *EmailPayload, ve *ValidationError) {
	if !IsValidEmailAddress(p.To) {
		ve.add("payload.to", "must be a valid email address")
	}
	if strings.TrimSpace(p.Subject) == "" {
		ve.add("payload.subject", "subject is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		ve.add("payload.body", "body is required")
	}
	for i, addr := range p.CC {
		if !IsValidEmailAddress(addr) {
			ve.add(fmt.Sprintf("payload.cc[%d]", i), "must be a valid email address")
		}
	}
	for i, addr := range p.BCC {
		if !IsValidEmailAddress(addr) {
			ve.add(fmt.Sprintf("payload.bcc[%d]", i), "must be a valid email address")
		}
	}
}

func validateSMS(p *SMSPayload, ve *ValidationError) {
	if utf8.RuneCountInString(strings.TrimSpace(p.To)) < 10 {
		ve.add("payload.to", "phone number must be at least 10 characters")
	}
	n := utf8.RuneCountInString(p.Message)
	if n == 0 {
		ve.add("payload.message", "message is required")
	} else if n > maxSMSLength {
		ve.add("payload.message", fmt.Sprintf("message must be at most %d characters", maxSMSLength))
	}
}

func validatePush(p *PushPayload, ve *ValidationError) {
	if strings.TrimSpace(p.DeviceToken) == "" {
		ve.add("payload.deviceToken", "deviceToken is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		ve.add("payload.title", "title is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		ve.add("payload.body", "body is required")
	}
}

// IsValidEmailAddress reports whether addr parses as a bare RFC 5322
// address. Display names ("A <a@b.c>") are rejected.
func IsValidEmailAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	return parsed.Address == addr
}
