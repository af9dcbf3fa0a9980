package llms

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/protocol"
)

func anthropicTestConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		Provider: config.ProviderAnthropic,
		Model:    "claude-sonnet-4-20250514",
		APIKey:   "test-key",
		BaseURL:  baseURL,
		Timeout:  5,
	}
}

func TestAnthropicGenerateToolUse(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "text", "text": "Let me search."},
				{"type": "tool_use", "id": "toolu_1", "name": "scanner__search", "input": {"q": "foo"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 30, "output_tokens": 12}
		}`)
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), []protocol.Message{
		protocol.NewSystemMessage("You are a security analyst."),
		protocol.NewUserMessage("find foo"),
	}, []protocol.ToolDefinition{
		{Name: "scanner__search", Description: "Search events", InputSchema: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me search.", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"q": "foo"}, resp.ToolCalls[0].Args)

	// System turns fold into the top-level system field.
	assert.Equal(t, "You are a security analyst.", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "scanner__search", captured.Tools[0].Name)
}

func TestAnthropicBuildRequestToolResult(t *testing.T) {
	p, err := NewAnthropicProvider(anthropicTestConfig("http://unused"))
	require.NoError(t, err)

	req := p.buildRequest([]protocol.Message{
		protocol.NewUserMessage("find foo"),
		protocol.NewAssistantMessage("checking", []protocol.ToolCall{
			{ID: "toolu_1", Name: "scanner__search", Args: map[string]any{"q": "foo"}},
		}),
		protocol.NewToolMessage("toolu_1", "scanner__search", "3 hits"),
	}, nil)

	require.Len(t, req.Messages, 3)

	assistant := req.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "text", assistant.Content[0].Type)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)

	result := req.Messages[2]
	assert.Equal(t, "user", result.Role, "tool results travel as user turns")
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "toolu_1", result.Content[0].ToolUseID)
	assert.Equal(t, "3 hits", result.Content[0].Content)
}

func TestAnthropicAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"type": "invalid_request_error", "message": "max_tokens required"}}`)
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(anthropicTestConfig(server.URL))
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), []protocol.Message{protocol.NewUserMessage("hi")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens required")
}
