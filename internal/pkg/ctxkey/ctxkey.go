// Package ctxkey defines type-safe keys for context.Value.
package ctxkey

// Key is the context key type, avoiding the built-in string type (staticcheck SA1029).
type Key string

const (
	// RequestID is the server-generated or client-provided request ID.
	RequestID Key = "ctx_request_id"
)
