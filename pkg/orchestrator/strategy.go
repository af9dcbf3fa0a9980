package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
)

// chartSystemPrompt constrains the bare round to emit a machine-readable
// chart description instead of prose.
const chartSystemPrompt = `When the user asks for a visualization, answer with a single fenced ` + "```json" + ` block describing the chart. The object must contain a "chartType" field (one of bar, line, pie, area, scatter, table) plus the fields needed to render it (e.g. "title", "xField", "yField", "data" or "query"). Do not add prose outside the block.`

// visualizationKeywords is the intent signal for the two-round strategy.
// Deliberately crude; the policy, not the wording, is the contract, and the
// list can be swapped without touching the loop.
var visualizationKeywords = []string{
	"chart", "graph", "plot", "visualiz", "visualis",
	"dashboard", "histogram", "pie ", "timeline", "diagram",
}

// WantsVisualization reports whether the message reads like a request for
// a chart.
func WantsVisualization(userMessage string) bool {
	lower := strings.ToLower(userMessage)
	for _, kw := range visualizationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractChartSpec pulls a well-formed chart description out of model
// output: a fenced JSON block whose object carries a non-empty chartType
// (or vega-style mark) field. The second return is false when no usable
// block exists.
func ExtractChartSpec(text string) (map[string]any, bool) {
	for _, block := range fencedBlocks(text) {
		var spec map[string]any
		if err := json.Unmarshal([]byte(block), &spec); err != nil {
			continue
		}
		if kind, _ := spec["chartType"].(string); kind != "" {
			return spec, true
		}
		if mark, _ := spec["mark"].(string); mark != "" {
			return spec, true
		}
	}
	return nil, false
}

// fencedBlocks returns the contents of ``` fenced blocks, language tag
// stripped.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			return blocks
		}
		rest = rest[start+3:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return blocks
		}
		block := rest[:end]
		rest = rest[end+3:]

		// Drop the language tag line if present.
		if nl := strings.Index(block, "\n"); nl >= 0 {
			first := strings.TrimSpace(block[:nl])
			if first != "" && !strings.HasPrefix(first, "{") {
				block = block[nl+1:]
			}
		}
		blocks = append(blocks, strings.TrimSpace(block))
	}
}

// Orchestrate applies the two-round strategy on top of Run. Requests that
// read like visualization asks get a bare, tool-free round first; only when
// that round fails to produce a usable chart spec does the orchestrator pay
// for tool loading and re-run from a fresh conversation. Everything else
// runs once with tools.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (*Result, error) {
	if !WantsVisualization(req.UserMessage) {
		return o.Run(ctx, req)
	}

	bare := req
	if bare.SystemPrompt != "" {
		bare.SystemPrompt += "\n\n" + chartSystemPrompt
	} else {
		bare.SystemPrompt = chartSystemPrompt
	}

	result, err := o.RunBare(ctx, bare)
	if err == nil {
		if spec, ok := ExtractChartSpec(result.FinalText); ok {
			result.ChartSpec = spec
			return result, nil
		}
		o.logger.Debug("bare round produced no chart spec, re-running with tools",
			"run_id", result.RunID)
	} else {
		o.logger.Warn("bare round failed, re-running with tools", "error", err)
	}

	// Round two starts from a fresh conversation with tools resolved;
	// round one's transcript is discarded on purpose.
	result, err = o.Run(ctx, req)
	if err != nil {
		return result, err
	}
	if spec, ok := ExtractChartSpec(result.FinalText); ok {
		result.ChartSpec = spec
	}
	return result, nil
}
