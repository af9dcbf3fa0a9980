// Package llms contains the model provider clients. Providers translate
// the neutral conversation and tool types into each vendor's wire format
// and back; the orchestration loop never sees vendor shapes.
package llms

import (
	"context"

	"github.com/seclens/seclens/pkg/protocol"
)

// Response is one non-streaming model turn.
type Response struct {
	Text       string
	ToolCalls  []protocol.ToolCall
	TokensUsed int
}

// Provider is a model backend capable of tool-aware generation. When tools
// is empty the provider must omit tool definitions from the request
// entirely so the model cannot emit calls nothing will execute.
type Provider interface {
	Generate(ctx context.Context, messages []protocol.Message, tools []protocol.ToolDefinition) (*Response, error)

	// Name identifies the configured model, for logs and results.
	Name() string

	Close() error
}
