package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/llms"
	"github.com/seclens/seclens/pkg/protocol"
	"github.com/seclens/seclens/pkg/registry"
	"github.com/seclens/seclens/pkg/resolver"
	"github.com/seclens/seclens/pkg/transport"
)

// scriptedProvider replays canned responses and records what it was asked.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llms.Response
	err       error

	calls       int
	gotMessages [][]protocol.Message
	gotTools    [][]protocol.ToolDefinition
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []protocol.Message, tools []protocol.ToolDefinition) (*llms.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gotMessages = append(p.gotMessages, append([]protocol.Message(nil), messages...))
	p.gotTools = append(p.gotTools, tools)
	p.calls++

	if p.err != nil {
		return nil, p.err
	}
	idx := p.calls - 1
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Close() error { return nil }

// fakeExecutor serves canned catalogs and results keyed by qualified name.
type fakeExecutor struct {
	mu      sync.Mutex
	tools   map[string][]protocol.ToolDefinition
	results map[string]string
	errs    map[string]error
	called  []string
}

func (e *fakeExecutor) ListTools(ctx context.Context, server registry.ToolServer) ([]protocol.ToolDefinition, error) {
	return e.tools[server.Name], nil
}

func (e *fakeExecutor) CallTool(ctx context.Context, server registry.ToolServer, rawName string, args map[string]any) (string, error) {
	qualified := protocol.QualifyToolName(server.Name, rawName)
	e.mu.Lock()
	e.called = append(e.called, qualified)
	e.mu.Unlock()

	if err, ok := e.errs[qualified]; ok {
		return "", err
	}
	return e.results[qualified], nil
}

// fixedResolver returns the same servers for every scope.
type fixedResolver struct {
	servers []registry.ToolServer
}

func (r fixedResolver) Resolve(ctx context.Context, backendID, scopeKey string) ([]registry.ToolServer, error) {
	return r.servers, nil
}

func serverX() registry.ToolServer {
	return registry.ToolServer{
		ID: "X", Name: "X", Kind: transport.KindStdio,
		Command: "/bin/x", Active: true,
	}
}

func searchTool() protocol.ToolDefinition {
	return protocol.ToolDefinition{Name: "X__search", Description: "Search events"}
}

func toolCallResponse(calls ...protocol.ToolCall) *llms.Response {
	return &llms.Response{ToolCalls: calls, TokensUsed: 5}
}

func textResponse(text string) *llms.Response {
	return &llms.Response{Text: text, TokensUsed: 5}
}

func newTestOrchestrator(p llms.Provider, e ToolExecutor, r ServerResolver) *Orchestrator {
	return New(p, e, r, config.OrchestratorConfig{}, nil)
}

// End-to-end flow: one binding, one tool call, one answer.
func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()

	store := registry.NewMemoryStore()
	require.NoError(t, store.UpsertServer(ctx, serverX()))
	require.NoError(t, store.UpsertBinding(ctx, "b1", registry.ToolBinding{
		ScopePattern: "sec-*", ServerID: "X", Priority: 1,
		Enabled: true, AutoInject: true,
	}))

	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "call_1", Name: "X__search", Args: map[string]any{"q": "foo"}}),
		textResponse("Found 3 matches"),
	}}
	exec := &fakeExecutor{
		tools:   map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		results: map[string]string{"X__search": "3 hits"},
	}
	o := newTestOrchestrator(provider, exec, resolver.New(store, nil))

	result, err := o.Run(ctx, Request{
		Scope: "sec-logs", BackendID: "b1",
		SystemPrompt: "You are a security analyst.",
		UserMessage:  "find foo",
	})
	require.NoError(t, err)

	assert.Equal(t, "Found 3 matches", result.FinalText)
	assert.Equal(t, 1, result.ToolCallCount)
	assert.Equal(t, ModelFinished, result.Termination)
	assert.Equal(t, 2, result.Iterations)
	assert.NotEmpty(t, result.RunID)

	require.Len(t, result.UsedToolResults, 1)
	assert.Equal(t, "3 hits", result.UsedToolResults[0].Content)

	// The second model call must see the tool turn.
	require.Equal(t, 2, provider.calls)
	secondTurn := provider.gotMessages[1]
	last := secondTurn[len(secondTurn)-1]
	assert.Equal(t, protocol.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "3 hits", last.Content)

	// First call carried the resolved tool definitions.
	require.Len(t, provider.gotTools[0], 1)
	assert.Equal(t, "X__search", provider.gotTools[0][0].Name)
}

// A model stub that never stops asking for tools must terminate at exactly
// maxIterations+1 model calls.
func TestRunBudgetTermination(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "c", Name: "X__search", Args: map[string]any{}}),
	}}
	exec := &fakeExecutor{
		tools:   map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		results: map[string]string{"X__search": "partial data"},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{
		Scope: "sec-logs", BackendID: "b1",
		UserMessage: "dig forever", MaxIterations: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, provider.calls, "3 loop iterations plus the forced closure call")
	assert.Equal(t, IterationBudgetExhausted, result.Termination)
	assert.Equal(t, 3, result.ToolCallCount)

	// The closure call must omit tools and carry the closure instruction.
	assert.Empty(t, provider.gotTools[3])
	closureTurn := provider.gotMessages[3]
	var sawInstruction bool
	for _, msg := range closureTurn {
		if msg.Role == protocol.RoleUser && msg.Content == closureInstruction {
			sawInstruction = true
		}
	}
	assert.True(t, sawInstruction)

	// The stub keeps returning tool calls even on the closure call, so
	// the answer falls back to the gathered tool output.
	assert.Contains(t, result.FinalText, "partial data")
}

func TestRunEmptyFinalTextFallsBackToToolResults(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "c1", Name: "X__search", Args: map[string]any{}}),
		textResponse(""),
	}}
	exec := &fakeExecutor{
		tools:   map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		results: map[string]string{"X__search": "3 hits"},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{UserMessage: "find foo"})
	require.NoError(t, err)

	assert.Equal(t, ModelFinished, result.Termination)
	assert.Equal(t, "3 hits", result.FinalText, "tool output must never be silently dropped")
}

// The fallback answer reflects the last turn's tool output only; results
// from earlier turns are superseded.
func TestRunFallbackUsesOnlyLastTurnResults(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "c1", Name: "X__search", Args: map[string]any{}}),
		toolCallResponse(protocol.ToolCall{ID: "c2", Name: "X__count", Args: map[string]any{}}),
		textResponse(""),
	}}
	exec := &fakeExecutor{
		tools: map[string][]protocol.ToolDefinition{"X": {
			searchTool(),
			{Name: "X__count", Description: "Count events"},
		}},
		results: map[string]string{
			"X__search": "stale rows",
			"X__count":  "42 events",
		},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{UserMessage: "how many?"})
	require.NoError(t, err)

	assert.Equal(t, "42 events", result.FinalText)
	assert.NotContains(t, result.FinalText, "stale rows")
}

func TestRunPlaceholderContentOnToolTurns(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "c1", Name: "X__search", Args: map[string]any{}}),
		textResponse("done"),
	}}
	exec := &fakeExecutor{
		tools:   map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		results: map[string]string{"X__search": "ok"},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	_, err := o.Run(context.Background(), Request{UserMessage: "find foo"})
	require.NoError(t, err)

	secondTurn := provider.gotMessages[1]
	var assistant protocol.Message
	for _, msg := range secondTurn {
		if msg.Role == protocol.RoleAssistant {
			assistant = msg
		}
	}
	assert.Equal(t, emptyToolTurnContent, assistant.Content,
		"tool-calling assistant turns must carry non-empty content")
}

func TestRunMalformedAndUnknownToolNames(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(
			protocol.ToolCall{ID: "c1", Name: "noseparator", Args: map[string]any{}},
			protocol.ToolCall{ID: "c2", Name: "ghost__scan", Args: map[string]any{}},
		),
		textResponse("recovered"),
	}}
	exec := &fakeExecutor{
		tools: map[string][]protocol.ToolDefinition{"X": {searchTool()}},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{UserMessage: "go"})
	require.NoError(t, err, "bad tool names must not abort the run")

	assert.Equal(t, "recovered", result.FinalText)
	require.Len(t, result.UsedToolResults, 2)
	assert.True(t, result.UsedToolResults[0].Failed())
	assert.Contains(t, result.UsedToolResults[0].Error, "separator")
	assert.True(t, result.UsedToolResults[1].Failed())
	assert.Contains(t, result.UsedToolResults[1].Error, "not available")
	assert.Empty(t, exec.called, "no transport call for unresolvable names")

	// Failures travel back to the model as error-prefixed tool turns.
	secondTurn := provider.gotMessages[1]
	var toolTurns []protocol.Message
	for _, msg := range secondTurn {
		if msg.Role == protocol.RoleTool {
			toolTurns = append(toolTurns, msg)
		}
	}
	require.Len(t, toolTurns, 2)
	assert.Contains(t, toolTurns[0].Content, "Error:")
}

func TestRunFailedToolCallContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(protocol.ToolCall{ID: "c1", Name: "X__search", Args: map[string]any{}}),
		textResponse("answered anyway"),
	}}
	exec := &fakeExecutor{
		tools: map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		errs:  map[string]error{"X__search": fmt.Errorf("backend unreachable")},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{UserMessage: "go"})
	require.NoError(t, err)

	assert.Equal(t, "answered anyway", result.FinalText)
	require.Len(t, result.UsedToolResults, 1)
	assert.Contains(t, result.UsedToolResults[0].Error, "backend unreachable")
}

func TestRunParallelCallsPreserveOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{
		toolCallResponse(
			protocol.ToolCall{ID: "c1", Name: "X__search", Args: map[string]any{}},
			protocol.ToolCall{ID: "c2", Name: "X__count", Args: map[string]any{}},
		),
		textResponse("done"),
	}}
	exec := &fakeExecutor{
		tools: map[string][]protocol.ToolDefinition{"X": {searchTool()}},
		results: map[string]string{
			"X__search": "first",
			"X__count":  "second",
		},
	}
	o := newTestOrchestrator(provider, exec, fixedResolver{[]registry.ToolServer{serverX()}})

	result, err := o.Run(context.Background(), Request{UserMessage: "go"})
	require.NoError(t, err)

	require.Len(t, result.UsedToolResults, 2)
	assert.Equal(t, "c1", result.UsedToolResults[0].ToolCallID)
	assert.Equal(t, "first", result.UsedToolResults[0].Content)
	assert.Equal(t, "c2", result.UsedToolResults[1].ToolCallID)
	assert.Equal(t, "second", result.UsedToolResults[1].Content)
}

func TestRunModelFailureAborts(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("connection reset")}
	o := newTestOrchestrator(provider, &fakeExecutor{}, fixedResolver{nil})

	result, err := o.Run(context.Background(), Request{UserMessage: "go"})
	require.Error(t, err)
	assert.Equal(t, TransportFailure, result.Termination)
	assert.Equal(t, 1, provider.calls)
}

func TestRunCancellationStopsIterating(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &scriptedProvider{responses: []*llms.Response{textResponse("never")}}
	o := newTestOrchestrator(provider, &fakeExecutor{}, fixedResolver{nil})

	result, err := o.Run(ctx, Request{UserMessage: "go"})
	require.Error(t, err)
	assert.Equal(t, TransportFailure, result.Termination)
	assert.Zero(t, provider.calls, "no model call after cancellation is observed")
}

func TestRunOmitsToolsWhenNoneResolved(t *testing.T) {
	provider := &scriptedProvider{responses: []*llms.Response{textResponse("no tools needed")}}
	o := newTestOrchestrator(provider, &fakeExecutor{}, fixedResolver{nil})

	result, err := o.Run(context.Background(), Request{Scope: "unbound", UserMessage: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "no tools needed", result.FinalText)
	assert.Empty(t, provider.gotTools[0], "empty tool set must not be offered to the model")
}
