package protocol

import (
	"encoding/json"
	"testing"
)

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		name       string
		qualified  string
		wantServer string
		wantTool   string
		wantErr    bool
	}{
		{
			name:       "simple",
			qualified:  "search__query",
			wantServer: "search",
			wantTool:   "query",
		},
		{
			name:       "raw name contains separator",
			qualified:  "S__t__extra",
			wantServer: "S",
			wantTool:   "t__extra",
		},
		{
			name:      "no separator",
			qualified: "plainname",
			wantErr:   true,
		},
		{
			name:      "empty server component",
			qualified: "__tool",
			wantErr:   true,
		},
		{
			name:      "empty tool component",
			qualified: "server__",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, err := SplitToolName(tt.qualified)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SplitToolName(%q) expected error, got (%q, %q)", tt.qualified, server, tool)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitToolName(%q) error = %v", tt.qualified, err)
			}
			if server != tt.wantServer || tool != tt.wantTool {
				t.Errorf("SplitToolName(%q) = (%q, %q), want (%q, %q)",
					tt.qualified, server, tool, tt.wantServer, tt.wantTool)
			}
		})
	}
}

func TestQualifyToolNameRoundTrip(t *testing.T) {
	qualified := QualifyToolName("S", "t__with__separators")
	server, tool, err := SplitToolName(qualified)
	if err != nil {
		t.Fatalf("SplitToolName(%q) error = %v", qualified, err)
	}
	if server != "S" || tool != "t__with__separators" {
		t.Errorf("round trip = (%q, %q), want (S, t__with__separators)", server, tool)
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantVal any
		wantErr bool
	}{
		{name: "object", raw: `{"q":"foo"}`, wantKey: "q", wantVal: "foo"},
		{name: "string wrapped object", raw: `"{\"q\":\"foo\"}"`, wantKey: "q", wantVal: "foo"},
		{name: "empty string", raw: `""`},
		{name: "null object", raw: `null`},
		{name: "invalid", raw: `42`, wantErr: true},
		{name: "garbage in string", raw: `"not json"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := ParseToolArguments(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseToolArguments(%s) expected error, got %v", tt.raw, args)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseToolArguments(%s) error = %v", tt.raw, err)
			}
			if args == nil {
				t.Fatal("ParseToolArguments() returned nil map")
			}
			if tt.wantKey != "" && args[tt.wantKey] != tt.wantVal {
				t.Errorf("args[%q] = %v, want %v", tt.wantKey, args[tt.wantKey], tt.wantVal)
			}
		})
	}
}

func TestConversationOwnership(t *testing.T) {
	conv := NewConversation(NewUserMessage("hello"))
	conv.Append(NewAssistantMessage("hi", nil))

	if conv.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", conv.Len())
	}
	if conv.Last().Role != RoleAssistant {
		t.Errorf("Last().Role = %q, want assistant", conv.Last().Role)
	}

	empty := NewConversation()
	if empty.Last().Role != "" {
		t.Errorf("empty conversation Last() should be zero Message")
	}
}
