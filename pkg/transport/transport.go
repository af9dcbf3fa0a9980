// Package transport implements the JSON-RPC client side of the tool-server
// protocol over three media: a spawned subprocess (stdio), a plain HTTP
// endpoint, and a server-sent-event stream. All three satisfy Transport and
// are interchangeable from the executor's point of view.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the transport medium.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindHTTP  Kind = "http"
	KindSSE   Kind = "sse"
)

// Valid reports whether k is a known transport kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStdio, KindHTTP, KindSSE:
		return true
	}
	return false
}

// DefaultCallTimeout bounds a single tool-server round trip when the
// caller's context carries no earlier deadline.
const DefaultCallTimeout = 30 * time.Second

// Transport issues one logical (method, params) call against a tool server
// and returns the parsed JSON-RPC result.
//
// Failure semantics: a *TransportError means the server was never reached
// (spawn failure, network failure, timeout) and the call may be retried by
// the caller; a *ProtocolError means the server answered with a JSON-RPC
// error object, which callers treat as a result rather than a failure.
type Transport interface {
	// Call performs a JSON-RPC round trip. The context deadline bounds
	// the whole exchange; Call applies DefaultCallTimeout when none is
	// set.
	Call(ctx context.Context, method string, params map[string]any) (map[string]any, error)

	// Kind reports the transport medium.
	Kind() Kind

	// Close releases any held resources. The one-shot transports hold
	// none; Close exists so the executor can treat all kinds uniformly.
	Close() error
}

// Config carries the connection parameters for one tool server.
type Config struct {
	Kind Kind

	// Stdio parameters.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP and SSE parameter.
	URL string

	// CallTimeout overrides DefaultCallTimeout when positive.
	CallTimeout time.Duration
}

// New constructs the Transport for the configured kind. The choice is made
// once per server; call sites never branch on the kind again.
func New(cfg Config) (Transport, error) {
	switch cfg.Kind {
	case KindStdio:
		return newStdioTransport(cfg)
	case KindHTTP:
		return newHTTPTransport(cfg)
	case KindSSE:
		return newSSETransport(cfg)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// callContext applies the per-call timeout unless the caller's deadline is
// already sooner.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
