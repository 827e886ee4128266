package llm

import "context"

// Request carries one model invocation: the system prompt for this
// turn, the normalized conversation, and the tools on offer.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Client is the interface all model providers implement.
type Client interface {
	// Converse sends a conversation and returns the model's next turn.
	Converse(ctx context.Context, req Request) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
