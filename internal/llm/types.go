// Package llm provides the model-neutral conversation types and the
// Anthropic Messages API client used by the recommendation loop.
package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles. Conversations alternate strictly between user and
// assistant; tool results travel inside a user message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Content is an ordered list of
// blocks so a single assistant turn can carry both prose and tool
// invocations.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// BlockKind discriminates the content block union.
type BlockKind int

const (
	// BlockText is plain assistant or user prose.
	BlockText BlockKind = iota

	// BlockToolUse is a model request to invoke a named tool.
	BlockToolUse

	// BlockToolResult is the outcome of a tool invocation, carried in
	// the user turn that follows the requesting assistant turn.
	BlockToolResult
)

// ContentBlock is a tagged union. Exactly one of the payload fields is
// meaningful, selected by Kind.
type ContentBlock struct {
	Kind BlockKind

	Text       string
	ToolUse    *ToolUse
	ToolResult *ToolResult
}

// ToolUse is a model-issued tool invocation. ID correlates the
// eventual ToolResult back to this request.
type ToolUse struct {
	ID    string         `json:"toolUseId"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult carries the outcome of a single tool invocation.
type ToolResult struct {
	ToolUseID string           `json:"toolUseId"`
	Status    ToolResultStatus `json:"status"`
	Content   string           `json:"content"`
}

// ToolResultStatus reports whether a tool invocation succeeded.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolUseBlock builds a tool invocation content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// ToolResultBlock builds a tool result content block.
func ToolResultBlock(toolUseID string, status ToolResultStatus, content string) ContentBlock {
	return ContentBlock{
		Kind:       BlockToolResult,
		ToolResult: &ToolResult{ToolUseID: toolUseID, Status: status, Content: content},
	}
}

// UserText builds a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// AssistantText builds an assistant message with a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{TextBlock(text)}}
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if block.Kind == BlockText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolUses returns the message's tool invocation blocks in order.
func (m Message) ToolUses() []*ToolUse {
	var uses []*ToolUse
	for _, block := range m.Content {
		if block.Kind == BlockToolUse && block.ToolUse != nil {
			uses = append(uses, block.ToolUse)
		}
	}
	return uses
}

// HasToolUse reports whether the message requests any tool invocation.
func (m Message) HasToolUse() bool {
	for _, block := range m.Content {
		if block.Kind == BlockToolUse {
			return true
		}
	}
	return false
}

// HasToolResult reports whether the message carries any tool result.
func (m Message) HasToolResult() bool {
	for _, block := range m.Content {
		if block.Kind == BlockToolResult {
			return true
		}
	}
	return false
}

// Wire format: each block serializes as a single-key object keyed by
// its type, e.g. {"text": "..."}, {"toolUse": {...}}, {"toolResult": {...}}.
// This is the shape persisted in the message store.

type wireBlock struct {
	Text       *string     `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BlockText:
		return json.Marshal(wireBlock{Text: &b.Text})
	case BlockToolUse:
		if b.ToolUse == nil {
			return nil, fmt.Errorf("tool use block with nil payload")
		}
		return json.Marshal(wireBlock{ToolUse: b.ToolUse})
	case BlockToolResult:
		if b.ToolResult == nil {
			return nil, fmt.Errorf("tool result block with nil payload")
		}
		return json.Marshal(wireBlock{ToolResult: b.ToolResult})
	default:
		return nil, fmt.Errorf("unknown content block kind %d", b.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.ToolUse != nil:
		*b = ContentBlock{Kind: BlockToolUse, ToolUse: w.ToolUse}
	case w.ToolResult != nil:
		*b = ContentBlock{Kind: BlockToolResult, ToolResult: w.ToolResult}
	case w.Text != nil:
		*b = ContentBlock{Kind: BlockText, Text: *w.Text}
	default:
		return fmt.Errorf("content block has no recognized key")
	}
	return nil
}

// ToolSpec describes a tool offered to the model. InputSchema is a
// JSON Schema object.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Usage is provider-neutral token accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the unified model response.
type Response struct {
	Model      string
	Message    Message
	StopReason string
	Usage      Usage
}
