// Package protocol defines the conversation and tool-call types shared by
// the transports, the tool executor and the orchestration loop.
package protocol

// Message roles. These follow the chat-completions convention used by the
// LLM providers in pkg/llms.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool turns and link the result back
	// to the originating call.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// NewSystemMessage returns a system turn.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// NewUserMessage returns a user turn.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewAssistantMessage returns an assistant turn.
func NewAssistantMessage(text string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: toolCalls}
}

// NewToolMessage returns a tool turn carrying the result of one tool call.
func NewToolMessage(callID, toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: toolName}
}

// Conversation is the ordered turn list for a single orchestration run.
// A run owns its conversation exclusively; it is never shared between
// goroutines.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation seeded with the given turns.
func NewConversation(messages ...Message) *Conversation {
	c := &Conversation{}
	c.messages = append(c.messages, messages...)
	return c
}

// Append adds turns to the end of the conversation.
func (c *Conversation) Append(messages ...Message) {
	c.messages = append(c.messages, messages...)
}

// Messages returns the turns in order. The returned slice is the backing
// array; callers must not mutate it across an append.
func (c *Conversation) Messages() []Message {
	return c.messages
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent turn, or a zero Message for an empty
// conversation.
func (c *Conversation) Last() Message {
	if len(c.messages) == 0 {
		return Message{}
	}
	return c.messages[len(c.messages)-1]
}
