// Package errors defines the application error type shared by services and
// the HTTP layer. Every error carries an HTTP status, a stable machine
// reason code, and a human message; metadata and causes are optional.
package errors

import (
	"fmt"
	"net/http"
)

type ApplicationError struct {
	Status   int
	Code     string
	Message  string
	Metadata map[string]string
	cause    error
}

func (e *ApplicationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.cause }

// WithCause returns a copy carrying err as the underlying cause.
func (e *ApplicationError) WithCause(err error) *ApplicationError {
	cp := *e
	cp.cause = err
	return &cp
}

// WithMetadata returns a copy with md merged over the existing metadata.
func (e *ApplicationError) WithMetadata(md map[string]string) *ApplicationError {
	cp := *e
	cp.Metadata = make(map[string]string, len(e.Metadata)+len(md))
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	for k, v := range md {
		cp.Metadata[k] = v
	}
	return &cp
}

func (e *ApplicationError) Is(target error) bool {
	other, ok := target.(*ApplicationError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

func New(status int, code, message string) *ApplicationError {
	return &ApplicationError{Status: status, Code: code, Message: message}
}

func BadRequest(code, message string) *ApplicationError {
	return New(http.StatusBadRequest, code, message)
}

func InternalServer(code, message string) *ApplicationError {
	return New(http.StatusInternalServerError, code, message)
}
