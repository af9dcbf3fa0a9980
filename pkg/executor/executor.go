// Package executor is the façade between the orchestration loop and tool
// server transports. It speaks the tools/list and tools/call methods and
// normalizes the heterogeneous result shapes servers return into plain
// strings the model can read.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seclens/seclens/pkg/observability"
	"github.com/seclens/seclens/pkg/protocol"
	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/transport"
)

// TransportFactory builds a transport for a server config. Tests substitute
// fakes here; production uses transport.New.
type TransportFactory func(cfg transport.Config) (transport.Transport, error)

// Executor issues tool protocol calls against configured servers.
type Executor struct {
	newTransport TransportFactory
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithTransportFactory overrides how transports are constructed.
func WithTransportFactory(f TransportFactory) Option {
	return func(e *Executor) { e.newTransport = f }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		newTransport: transport.New,
		logger:       slog.Default(),
		tracer:       observability.GetTracer("seclens.executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListTools fetches the server's tool catalog and returns it with names
// qualified by the server name. An inactive server is an error, never a
// call attempt.
func (e *Executor) ListTools(ctx context.Context, server registry.ToolServer) ([]protocol.ToolDefinition, error) {
	if !server.Active {
		return nil, fmt.Errorf("tool server %s is inactive", server.Name)
	}

	ctx, span := e.tracer.Start(ctx, "executor.ListTools",
		trace.WithAttributes(attribute.String("tool.server", server.Name)))
	defer span.End()

	t, err := e.newTransport(server.TransportConfig())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to connect to %s: %w", server.Name, err)
	}
	defer t.Close()

	result, err := t.Call(ctx, "tools/list", nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("tools/list on %s failed: %w", server.Name, err)
	}

	defs := parseToolList(server.Name, result)
	span.SetAttributes(attribute.Int("tool.count", len(defs)))
	e.logger.Debug("listed tools", "server", server.Name, "count", len(defs))
	return defs, nil
}

// CallTool invokes rawName on the server and returns the flattened text
// content. A server-side failure comes back as an error the caller is
// expected to turn into a failed tool result, not a crash.
func (e *Executor) CallTool(ctx context.Context, server registry.ToolServer, rawName string, args map[string]any) (content string, err error) {
	if !server.Active {
		return "", fmt.Errorf("tool server %s is inactive", server.Name)
	}

	ctx, span := e.tracer.Start(ctx, "executor.CallTool",
		trace.WithAttributes(
			attribute.String("tool.server", server.Name),
			attribute.String("tool.name", rawName)))
	defer span.End()

	start := time.Now()
	qualified := protocol.QualifyToolName(server.Name, rawName)
	defer func() {
		observability.GetGlobalMetrics().RecordToolCall(ctx, qualified, time.Since(start), err)
	}()

	t, err := e.newTransport(server.TransportConfig())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to connect to %s: %w", server.Name, err)
	}
	defer t.Close()

	params := map[string]any{"name": rawName}
	if len(args) > 0 {
		params["arguments"] = args
	}

	result, err := t.Call(ctx, "tools/call", params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("tool %s on %s failed: %w", rawName, server.Name, err)
	}

	content = FlattenContent(result)
	if isError, _ := result["isError"].(bool); isError {
		span.SetStatus(codes.Error, "tool reported failure")
		if content == "" {
			content = "tool reported an unspecified failure"
		}
		return "", fmt.Errorf("tool %s reported failure: %s", rawName, content)
	}

	e.logger.Debug("tool call completed",
		"server", server.Name, "tool", rawName, "content_bytes", len(content))
	return content, nil
}

func parseToolList(serverName string, result map[string]any) []protocol.ToolDefinition {
	raw, _ := result["tools"].([]any)
	defs := make([]protocol.ToolDefinition, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" || strings.Contains(name, protocol.ToolNameSeparator) {
			// A raw name carrying the separator could not be split
			// back apart; refuse to expose it.
			continue
		}
		def := protocol.ToolDefinition{
			Name: protocol.QualifyToolName(serverName, name),
		}
		def.Description, _ = m["description"].(string)
		if schema, ok := m["inputSchema"].(map[string]any); ok {
			def.InputSchema = schema
		}
		defs = append(defs, def)
	}
	return defs
}

// FlattenContent reduces a tools/call result to a single string. Servers
// variously return a plain string, a list of typed content blocks, or an
// arbitrary object; text blocks are joined with newlines and anything else
// is rendered as compact JSON.
func FlattenContent(result map[string]any) string {
	switch content := result["content"].(type) {
	case string:
		return content
	case []any:
		var parts []string
		for _, block := range content {
			if s := flattenBlock(block); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case nil:
		// Some servers put the payload at the top level.
		if len(result) == 0 {
			return ""
		}
		return compactJSON(result)
	default:
		return compactJSON(content)
	}
}

func flattenBlock(block any) string {
	m, ok := block.(map[string]any)
	if !ok {
		if s, ok := block.(string); ok {
			return s
		}
		return compactJSON(block)
	}
	switch m["type"] {
	case "text":
		s, _ := m["text"].(string)
		return s
	case "resource":
		if res, ok := m["resource"].(map[string]any); ok {
			if text, ok := res["text"].(string); ok {
				return text
			}
			if uri, ok := res["uri"].(string); ok {
				return fmt.Sprintf("[resource: %s]", uri)
			}
		}
		return "[resource]"
	case "image":
		mime, _ := m["mimeType"].(string)
		return fmt.Sprintf("[image: %s]", mime)
	default:
		return compactJSON(m)
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
