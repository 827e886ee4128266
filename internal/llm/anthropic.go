package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openroad-labs/carscout/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	defaultMaxTokens = 4096
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take significant time before sending headers
	// (long prompts, many tool results). Use a custom transport with a
	// generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicAPIURL,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			// No global timeout. Rely on ctx deadlines for timeout control.
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *AnthropicClient) SetBaseURL(u string) { c.baseURL = u }

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"` // for tool_result
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Converse sends a conversation and returns the model's next turn.
func (c *AnthropicClient) Converse(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	wireReq := anthropicRequest{
		Model:     req.Model,
		Messages:  convertToAnthropic(req.Messages),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     convertToolsToAnthropic(req.Tools),
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(wireReq.Messages),
		"tools", len(wireReq.Tools),
		"system_len", len(req.System),
	)

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	var wireResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result, err := convertFromAnthropic(&wireResp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
		"tool_uses", len(result.Message.ToolUses()),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Text())

	return result, nil
}

// Ping checks if the Anthropic API is reachable.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	// Anthropic doesn't have a dedicated health endpoint, so send a
	// minimal request to verify the API key works.
	req := anthropicRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []anthropicMessage{{
			Role:    RoleUser,
			Content: []anthropicContent{{Type: "text", Text: "ping"}},
		}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", httpResp.StatusCode)
	}
	return nil
}

// convertToAnthropic converts internal messages to Anthropic wire format.
func convertToAnthropic(messages []Message) []anthropicMessage {
	result := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropicContent
		for _, block := range msg.Content {
			switch block.Kind {
			case BlockText:
				blocks = append(blocks, anthropicContent{
					Type: "text",
					Text: block.Text,
				})
			case BlockToolUse:
				input := block.ToolUse.Input
				if input == nil {
					input = map[string]any{}
				}
				raw, err := json.Marshal(input)
				if err != nil {
					raw = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    block.ToolUse.ID,
					Name:  block.ToolUse.Name,
					Input: raw,
				})
			case BlockToolResult:
				blocks = append(blocks, anthropicContent{
					Type:      "tool_result",
					ToolUseID: block.ToolResult.ToolUseID,
					Content:   block.ToolResult.Content,
					IsError:   block.ToolResult.Status == ToolResultError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		result = append(result, anthropicMessage{Role: msg.Role, Content: blocks})
	}
	return result
}

// convertToolsToAnthropic converts tool specs to Anthropic wire format.
func convertToolsToAnthropic(tools []ToolSpec) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		schema := any(tool.InputSchema)
		if tool.InputSchema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return result
}

// convertFromAnthropic converts an Anthropic response to our internal format.
func convertFromAnthropic(resp *anthropicResponse) (*Response, error) {
	var content []ContentBlock
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content = append(content, TextBlock(block.Text))
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					input = map[string]any{"_raw": string(block.Input)}
				}
			}
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, ToolUseBlock(block.ID, block.Name, input))
		}
	}

	role := resp.Role
	if role == "" {
		role = RoleAssistant
	}

	return &Response{
		Model:      resp.Model,
		Message:    Message{Role: role, Content: content},
		StopReason: resp.StopReason,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
