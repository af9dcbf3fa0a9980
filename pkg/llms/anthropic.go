package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/httpclient"
	"github.com/seclens/seclens/pkg/observability"
	"github.com/seclens/seclens/pkg/protocol"
)

const (
	defaultAnthropicHost = "https://api.anthropic.com"
	anthropicAPIVersion  = "2023-06-01"
)

// AnthropicProvider speaks the messages API.
type AnthropicProvider struct {
	cfg        config.ModelConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(cfg config.ModelConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicHost
	}
	return &AnthropicProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Name() string { return p.cfg.Model }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Generate(ctx context.Context, messages []protocol.Message, tools []protocol.ToolDefinition) (*Response, error) {
	start := time.Now()
	tracer := observability.GetTracer("seclens.llm")
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", p.cfg.Model),
			attribute.String("llm.provider", "anthropic"),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, tools)
	response, err := p.makeRequest(ctx, request)
	observability.GetGlobalMetrics().RecordModelCall(ctx, p.cfg.Model, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if response.Error != nil {
		apiErr := fmt.Errorf("anthropic API error: %s", response.Error.Message)
		span.SetStatus(codes.Error, response.Error.Message)
		return nil, apiErr
	}

	out := &Response{
		TokensUsed: response.Usage.InputTokens + response.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, content := range response.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "tool_use":
			args := map[string]any{}
			if content.Input != nil {
				args = *content.Input
			}
			out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
				ID:   content.ID,
				Name: content.Name,
				Args: args,
			})
		}
	}
	out.Text = text.String()

	span.SetAttributes(
		attribute.Int("llm.tokens_used", out.TokensUsed),
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

// buildRequest maps the neutral conversation onto the messages API. System
// turns become the top-level system field; tool turns become user-role
// tool_result blocks.
func (p *AnthropicProvider) buildRequest(messages []protocol.Message, tools []protocol.ToolDefinition) anthropicRequest {
	var systemParts []string
	antMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case protocol.RoleUser:
			antMessages = append(antMessages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})

		case protocol.RoleTool:
			antMessages = append(antMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case protocol.RoleAssistant:
			var contents []anthropicContent
			if msg.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]any{}
				}
				contents = append(contents, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: &input,
				})
			}
			if len(contents) == 0 {
				contents = append(contents, anthropicContent{Type: "text", Text: msg.Content})
			}
			antMessages = append(antMessages, anthropicMessage{Role: "assistant", Content: contents})
		}
	}

	request := anthropicRequest{
		Model:       p.cfg.Model,
		Messages:    antMessages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		System:      strings.Join(systemParts, "\n\n"),
	}
	for _, tool := range tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		request.Tools = append(request.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return request
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if err == nil {
			err = fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("API request failed: %s: %w", string(body), err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}
