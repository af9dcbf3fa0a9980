package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	jsonRPCVersion = "2.0"

	// protocolVersion is sent in the initialize handshake.
	protocolVersion = "2024-11-05"

	clientName = "seclens"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  map[string]any  `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRequest(method string, params map[string]any) rpcRequest {
	return rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
}

// initializeParams is the handshake payload every medium sends before the
// real request.
func initializeParams() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": "1.0",
		},
		"capabilities": map[string]any{},
	}
}

// decodeResponse parses one JSON-RPC response and converts a carried error
// object into a *ProtocolError.
func decodeResponse(data []byte) (map[string]any, error) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed JSON-RPC response: %w", err)
	}
	return resp.toResult()
}

func (r *rpcResponse) toResult() (map[string]any, error) {
	if r.Error != nil {
		return nil, &ProtocolError{Code: r.Error.Code, Message: r.Error.Message}
	}
	if r.Result == nil {
		return map[string]any{}, nil
	}
	return r.Result, nil
}
