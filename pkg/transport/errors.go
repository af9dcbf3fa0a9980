package transport

import "fmt"

// TransportError wraps a connection-level failure: the tool server was not
// reached or did not complete the exchange (spawn failure, network failure,
// timeout, non-zero exit). Callers may treat it as retryable.
type TransportError struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s transport: %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s transport: %s: %s", e.Kind, e.Op, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means the server responded but flagged a JSON-RPC error.
// The exchange itself succeeded, so callers convert it into a tool result
// rather than aborting.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tool server error %d: %s", e.Code, e.Message)
}

func transportErr(kind Kind, op, message string, err error) *TransportError {
	return &TransportError{Kind: kind, Op: op, Message: message, Err: err}
}
