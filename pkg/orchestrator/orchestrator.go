// Package orchestrator drives the agentic loop: it calls the model with
// the running conversation and the resolved tool set, executes requested
// tool calls, feeds results back, and decides when the run is over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seclens/seclens/pkg/config"
	"github.com/seclens/seclens/pkg/httpclient"
	"github.com/seclens/seclens/pkg/llms"
	"github.com/seclens/seclens/pkg/observability"
	"github.com/seclens/seclens/pkg/protocol"
	"github.com/seclens/seclens/pkg/registry"
)

// TerminationReason says why a run ended.
type TerminationReason string

const (
	// ModelFinished means the model produced a text answer with no
	// pending tool calls.
	ModelFinished TerminationReason = "model_finished"

	// IterationBudgetExhausted means the loop hit its iteration budget
	// and was closed out with a forced tools-off call.
	IterationBudgetExhausted TerminationReason = "iteration_budget_exhausted"

	// TransportFailure means the model call itself failed; the run
	// aborted.
	TransportFailure TerminationReason = "transport_error"
)

// emptyToolTurnContent stands in for assistant text on tool-calling turns.
// Some model backends reject an assistant turn whose content is empty.
const emptyToolTurnContent = "Working on it."

// closureInstruction is appended when the budget runs out while the model
// still wants tools.
const closureInstruction = "Tool budget is exhausted. Summarize your findings so far and answer the question with the information already gathered."

// Request is one orchestration run.
type Request struct {
	// Scope keys binding resolution, e.g. an index name.
	Scope     string
	BackendID string

	SystemPrompt string
	UserMessage  string

	// MaxIterations overrides the configured budget when positive.
	MaxIterations int
}

// Result is the outcome of a run.
type Result struct {
	RunID           string
	FinalText       string
	ToolCallCount   int
	UsedToolResults []protocol.ToolResult
	Termination     TerminationReason
	Iterations      int
	TokensUsed      int

	// ChartSpec is set by the two-round strategy when the run produced a
	// structured visualization.
	ChartSpec map[string]any `json:"chart_spec,omitempty"`
}

// ToolExecutor is the slice of pkg/executor the loop needs.
type ToolExecutor interface {
	ListTools(ctx context.Context, server registry.ToolServer) ([]protocol.ToolDefinition, error)
	CallTool(ctx context.Context, server registry.ToolServer, rawName string, args map[string]any) (string, error)
}

// ServerResolver is the slice of pkg/resolver the loop needs.
type ServerResolver interface {
	Resolve(ctx context.Context, backendID, scopeKey string) ([]registry.ToolServer, error)
}

// Orchestrator runs the loop. Construct one per process and share it; each
// Run owns its own conversation state.
type Orchestrator struct {
	provider llms.Provider
	executor ToolExecutor
	resolver ServerResolver
	cfg      config.OrchestratorConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New wires an orchestrator from its collaborators.
func New(provider llms.Provider, exec ToolExecutor, res ServerResolver, cfg config.OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.SetDefaults()
	return &Orchestrator{
		provider: provider,
		executor: exec,
		resolver: res,
		cfg:      cfg,
		logger:   logger,
		tracer:   observability.GetTracer("seclens.orchestrator"),
	}
}

// toolSet is the per-run view of the resolved servers and their tools.
type toolSet struct {
	definitions   []protocol.ToolDefinition
	serversByName map[string]registry.ToolServer
}

// Run resolves the tool set for the request's scope and executes the loop.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	tools, err := o.loadTools(ctx, req)
	if err != nil {
		return &Result{Termination: TransportFailure}, err
	}
	return o.run(ctx, req, tools)
}

// RunBare executes the loop with no tools at all. The two-round strategy
// uses it for the constrained first round.
func (o *Orchestrator) RunBare(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, req, &toolSet{serversByName: map[string]registry.ToolServer{}})
}

// loadTools resolves the scope's servers and fetches their catalogs. A
// failure here aborts the run: answering with a silently truncated tool set
// would be worse than failing loudly.
func (o *Orchestrator) loadTools(ctx context.Context, req Request) (*toolSet, error) {
	servers, err := o.resolver.Resolve(ctx, req.BackendID, req.Scope)
	if err != nil {
		return nil, fmt.Errorf("tool resolution failed: %w", err)
	}

	ts := &toolSet{serversByName: make(map[string]registry.ToolServer, len(servers))}
	for _, server := range servers {
		defs, err := o.executor.ListTools(ctx, server)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools on %s: %w", server.Name, err)
		}
		ts.definitions = append(ts.definitions, defs...)
		ts.serversByName[server.Name] = server
	}
	return ts, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, tools *toolSet) (result *Result, err error) {
	start := time.Now()
	runID := uuid.NewString()

	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = o.cfg.MaxIterations
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout.Std())
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.scope", req.Scope),
			attribute.Int("run.tool_definitions", len(tools.definitions)),
		))
	defer span.End()

	result = &Result{RunID: runID}
	defer func() {
		observability.GetGlobalMetrics().RecordRun(ctx, time.Since(start), result.TokensUsed, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("run.iterations", result.Iterations),
			attribute.Int("run.tool_calls", result.ToolCallCount),
			attribute.String("run.termination", string(result.Termination)),
		)
	}()

	conversation := protocol.NewConversation()
	if req.SystemPrompt != "" {
		conversation.Append(protocol.NewSystemMessage(req.SystemPrompt))
	}
	conversation.Append(protocol.NewUserMessage(req.UserMessage))

	// The fallback answer draws only on the final turn's results; earlier
	// turns' output has already been superseded by later calls.
	var lastTurnResults []protocol.ToolResult

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if ctx.Err() != nil {
			result.Termination = TransportFailure
			return result, fmt.Errorf("run canceled: %w", ctx.Err())
		}
		result.Iterations = iteration

		response, genErr := o.generate(ctx, conversation.Messages(), tools.definitions)
		if genErr != nil {
			result.Termination = TransportFailure
			return result, fmt.Errorf("model call failed: %w", genErr)
		}
		result.TokensUsed += response.TokensUsed

		if len(response.ToolCalls) == 0 {
			result.FinalText = o.ensureAnswer(response.Text, lastTurnResults)
			result.Termination = ModelFinished
			return result, nil
		}

		content := response.Text
		if content == "" {
			content = emptyToolTurnContent
		}
		conversation.Append(protocol.NewAssistantMessage(content, response.ToolCalls))

		if ctx.Err() != nil {
			result.Termination = TransportFailure
			return result, fmt.Errorf("run canceled: %w", ctx.Err())
		}

		toolResults := o.executeToolCalls(ctx, tools, response.ToolCalls)
		lastTurnResults = toolResults
		for _, tr := range toolResults {
			result.ToolCallCount++
			result.UsedToolResults = append(result.UsedToolResults, tr)
			content := tr.Content
			if tr.Failed() {
				content = "Error: " + tr.Error
			}
			conversation.Append(protocol.NewToolMessage(tr.ToolCallID, tr.ToolName, content))
		}

		o.logger.Debug("iteration complete",
			"run_id", runID, "iteration", iteration, "tool_calls", len(toolResults))
	}

	// Budget spent with tool calls still pending. One last call with
	// tools withheld forces textual closure.
	conversation.Append(protocol.NewUserMessage(closureInstruction))
	result.Iterations = maxIterations + 1

	response, genErr := o.generate(ctx, conversation.Messages(), nil)
	if genErr != nil {
		result.Termination = TransportFailure
		return result, fmt.Errorf("closure call failed: %w", genErr)
	}
	result.TokensUsed += response.TokensUsed
	result.FinalText = o.ensureAnswer(response.Text, lastTurnResults)
	result.Termination = IterationBudgetExhausted
	return result, nil
}

// generate calls the model, waiting out one rate-limit rejection before
// giving up. The HTTP layer has already retried transient failures; this
// extra attempt only covers the case where the provider told us when to
// come back.
func (o *Orchestrator) generate(ctx context.Context, messages []protocol.Message, tools []protocol.ToolDefinition) (*llms.Response, error) {
	response, err := o.provider.Generate(ctx, messages, tools)
	if err == nil {
		return response, nil
	}

	var retryable *httpclient.RetryableError
	if !errors.As(err, &retryable) || retryable.RetryAfter <= 0 {
		return nil, err
	}

	o.logger.Warn("model rate limited, waiting before final attempt",
		"retry_after", retryable.RetryAfter)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(retryable.RetryAfter):
	}
	return o.provider.Generate(ctx, messages, tools)
}

// executeToolCalls runs one turn's calls concurrently and returns results
// in call order. Failures never escape as errors; each becomes a failed
// ToolResult the model can read.
func (o *Orchestrator) executeToolCalls(ctx context.Context, tools *toolSet, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = o.executeToolCall(gctx, tools, call)
			return nil
		})
	}
	// Partial results are never fed back alone: the turn completes only
	// when every call has.
	_ = g.Wait()

	return results
}

func (o *Orchestrator) executeToolCall(ctx context.Context, tools *toolSet, call protocol.ToolCall) protocol.ToolResult {
	result := protocol.ToolResult{ToolCallID: call.ID, ToolName: call.Name}

	serverName, rawName, err := protocol.SplitToolName(call.Name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	server, ok := tools.serversByName[serverName]
	if !ok {
		result.Error = fmt.Sprintf("tool server %q is not available in this scope", serverName)
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolCallTimeout.Std())
	defer cancel()

	content, err := o.executor.CallTool(callCtx, server, rawName, call.Args)
	if err != nil {
		o.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Content = content
	return result
}

// ensureAnswer guards against an empty final text when tool output exists:
// the last turn's successful results are returned verbatim rather than
// nothing at all.
func (o *Orchestrator) ensureAnswer(finalText string, toolResults []protocol.ToolResult) string {
	if strings.TrimSpace(finalText) != "" {
		return finalText
	}

	var parts []string
	for _, tr := range toolResults {
		if !tr.Failed() && strings.TrimSpace(tr.Content) != "" {
			parts = append(parts, tr.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
