package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/httpclient"
	"github.com/seclens/seclens/pkg/observability"
	"github.com/seclens/seclens/pkg/protocol"
)

const defaultOpenAIHost = "https://api.openai.com"

// OpenAIProvider speaks the chat completions API.
type OpenAIProvider struct {
	cfg        config.ModelConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments arrive as a JSON-encoded string.
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider creates a provider from config.
func NewOpenAIProvider(cfg config.ModelConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIHost
	}
	return &OpenAIProvider{
		cfg: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.cfg.Model }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []protocol.Message, tools []protocol.ToolDefinition) (*Response, error) {
	start := time.Now()
	tracer := observability.GetTracer("seclens.llm")
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", p.cfg.Model),
			attribute.String("llm.provider", "openai"),
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
		apiErr := fmt.Errorf("openai API error: %s", response.Error.Message)
		span.SetStatus(codes.Error, response.Error.Message)
		return nil, apiErr
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := response.Choices[0]
	out := &Response{
		Text:       choice.Message.Content,
		TokensUsed: response.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := protocol.ParseToolArguments(json.RawMessage(tc.Function.Arguments))
		if err != nil {
			// A raw arguments string is not itself valid JSON, so wrap
			// it before normalizing.
			encoded, _ := json.Marshal(tc.Function.Arguments)
			args, err = protocol.ParseToolArguments(encoded)
			if err != nil {
				return nil, fmt.Errorf("failed to parse tool call arguments: %w", err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, protocol.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_used", out.TokensUsed),
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
	)
	return out, nil
}

func (p *OpenAIProvider) buildRequest(messages []protocol.Message, tools []protocol.ToolDefinition) openAIRequest {
	oaMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		om := openAIMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Role == protocol.RoleTool {
			om.Name = msg.Name
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Args
			if args == nil {
				args = map[string]any{}
			}
			encoded, _ := json.Marshal(args)
			otc := openAIToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(encoded)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		oaMessages = append(oaMessages, om)
	}

	request := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    oaMessages,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
	}
	for _, tool := range tools {
		request.Tools = append(request.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return request
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}
