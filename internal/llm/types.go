// Package llm defines the text-generation provider interface and related
// types. The rest of the server treats generation as an opaque capability
// behind this interface.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason describes why the model stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
)

// ToolUse represents a tool call requested by the model.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Message is a single turn in the conversation.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolUse    *ToolUse    `json:"tool_use,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolResult is the result returned to the model after executing a tool.
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ToolSchema describes a tool's interface for the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema object
}

// Request is the input to a generation call.
type Request struct {
	Messages     []Message
	SystemPrompt string
	Tools        []ToolSchema
	MaxTokens    int
	Model        string // override provider default if set
}

// Token is a single streaming token.
type Token struct {
	Text  string
	Done  bool
	Error error
}

// Response is returned by Complete().
type Response struct {
	Text         string   // final text (for end_turn)
	StopReason   string   // StopReasonEndTurn | StopReasonToolUse | StopReasonMaxTokens
	ToolUse      *ToolUse // populated when StopReason == StopReasonToolUse
	InputTokens  int
	OutputTokens int
}

// Generator is the opaque generate(prompt, context) -> text capability.
type Generator interface {
	// Complete sends a generation request and waits for the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a generation request and streams tokens to out.
	// The caller must drain out until Done==true or an error token arrives.
	Stream(ctx context.Context, req Request, out chan<- Token) error

	// ModelID returns the current model identifier string.
	ModelID() string
}

// ToolResultMessage creates a Message carrying a tool result back to the model.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{
		Role: RoleUser,
		ToolResult: &ToolResult{
			ToolUseID: toolUseID,
			Content:   content,
			IsError:   isError,
		},
	}
}
