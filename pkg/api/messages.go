package api

import (
	"encoding/json"
)

// StopReason classifies why a single generation step ended.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonPauseTurn    StopReason = "pause_turn"
	StopReasonRefusal      StopReason = "refusal"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single role-attributed turn on the wire.
type Message struct {
	Role    Role        `json:"role"`
	Content ContentList `json:"content"`
}

// SystemBlock is a content block in the system array. Using an array instead
// of a plain string enables cache_control on the system prompt.
type SystemBlock struct {
	Type         string        `json:"type"` // "text"
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

func NewSystemBlock(text string) SystemBlock {
	return SystemBlock{Type: "text", Text: text}
}

// Tool describes a caller-owned tool the model may invoke. InputSchema is a
// JSON Schema object.
type Tool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema"`
	CacheControl *CacheControl   `json:"cache_control,omitempty"`
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled" or "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

func (tc *ThinkingConfig) Enabled() bool {
	return tc != nil && tc.Type == "enabled"
}

// ToolChoice controls how the model selects tools.
type ToolChoice struct {
	Type                   string `json:"type"` // "auto", "any", "tool", "none"
	Name                   string `json:"name,omitempty"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

// Metadata is attached to a request for service-side bookkeeping.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// MessageRequest is the request payload of the messages endpoint.
type MessageRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        []SystemBlock   `json:"system,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
}

// Usage reports token accounting, including prompt-cache reads and writes.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// MessageResponse is the non-streaming response payload. The streaming
// decoder reconstructs an identical value from the event sequence.
type MessageResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         Role        `json:"role"`
	Content      ContentList `json:"content"`
	Model        string      `json:"model"`
	StopReason   StopReason  `json:"stop_reason,omitempty"`
	StopSequence string      `json:"stop_sequence,omitempty"`
	Usage        Usage       `json:"usage"`
}

// FullText concatenates all text blocks of the response in order.
func (mr *MessageResponse) FullText() string {
	if mr == nil {
		return ""
	}
	ret := ""
	for _, c := range mr.Content {
		if tc, ok := c.(*TextContent); ok {
			ret += tc.Text
		}
	}
	return ret
}

// ToolUses returns the tool_use blocks of the response in emission order.
func (mr *MessageResponse) ToolUses() []*ToolUseContent {
	if mr == nil {
		return nil
	}
	var ret []*ToolUseContent
	for _, c := range mr.Content {
		if tu, ok := c.(*ToolUseContent); ok {
			ret = append(ret, tu)
		}
	}
	return ret
}
