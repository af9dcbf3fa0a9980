package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolNameSeparator joins a server name and a raw tool name into the
// qualified name offered to the model. Raw tool names may themselves contain
// the separator; server names may not (enforced by registry validation), so
// splitting on the first occurrence is unambiguous.
const ToolNameSeparator = "__"

// ToolDefinition is one callable operation exposed by a tool server, as
// presented to the model.
type ToolDefinition struct {
	// Name is the qualified name: "{serverName}__{rawName}".
	Name        string `json:"name"`
	Description string `json:"description"`

	// InputSchema is the server's JSON schema for the arguments, passed
	// through to the model untouched.
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolCall is a single invocation request emitted by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the flattened outcome of one tool call. Error carries a
// human-readable message when the call failed; the orchestrator feeds it
// back to the model as content instead of aborting the run.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the call produced an error.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// QualifyToolName builds the qualified tool name for a server/tool pair.
func QualifyToolName(serverName, rawName string) string {
	return serverName + ToolNameSeparator + rawName
}

// SplitToolName splits a qualified tool name into server name and raw tool
// name at the first separator. A name without the separator is a protocol
// violation by the model and returns an error.
func SplitToolName(qualified string) (serverName, rawName string, err error) {
	idx := strings.Index(qualified, ToolNameSeparator)
	if idx < 0 {
		return "", "", fmt.Errorf("tool name %q is missing the %q server separator", qualified, ToolNameSeparator)
	}
	serverName = qualified[:idx]
	rawName = qualified[idx+len(ToolNameSeparator):]
	if serverName == "" || rawName == "" {
		return "", "", fmt.Errorf("tool name %q has an empty server or tool component", qualified)
	}
	return serverName, rawName, nil
}

// ParseToolArguments normalizes tool-call arguments. Model backends deliver
// them either as a JSON object or as a string containing one; both decode to
// the same map. Empty input yields an empty map.
func ParseToolArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	}

	// Arguments wrapped in a string, e.g. "{\"q\":\"foo\"}".
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("tool arguments are neither an object nor a string: %s", raw)
	}
	if strings.TrimSpace(encoded) == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(encoded), &args); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments %q: %w", encoded, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
