package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/openroad-labs/carscout/internal/llm"
)

// Outcome is the uniform result of one tool invocation. A Failure
// still flows back to the model as an error-status ToolResult so the
// conversation can recover; it is never raised past the executor.
type Outcome struct {
	Status  llm.ToolResultStatus
	Content string
}

// Success builds a success outcome.
func Success(content string) Outcome {
	return Outcome{Status: llm.ToolResultSuccess, Content: content}
}

// Failure builds an error outcome.
func Failure(msg string) Outcome {
	return Outcome{Status: llm.ToolResultError, Content: msg}
}

// Executor runs tool invocations against a registry. It guarantees
// that nothing escapes its boundary: unknown tools, invalid input,
// handler errors, and panics all become Failure outcomes.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute runs one tool by name. The ctx carries the per-call
// deadline; a timed-out handler surfaces as a Failure.
func (e *Executor) Execute(ctx context.Context, name string, input map[string]any) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked", "tool", name, "panic", r)
			outcome = Failure(fmt.Sprintf("tool %s failed unexpectedly", name))
		}
	}()

	tool, ok := e.registry.Get(name)
	if !ok {
		return Failure(fmt.Sprintf("unknown tool: %s", name))
	}

	if msg := validateInput(tool.InputSchema, input); msg != "" {
		return Failure(fmt.Sprintf("invalid input for %s: %s", name, msg))
	}

	content, err := tool.Handler(ctx, input)
	if err != nil {
		e.logger.Warn("tool failed", "tool", name, "error", err)
		return Failure(fmt.Sprintf("%s failed: %v", name, err))
	}
	return Success(content)
}

// validateInput checks input against the tool's JSON Schema. Returns
// an empty string when valid or when the tool declares no schema.
func validateInput(schema, input map[string]any) string {
	if schema == nil {
		return ""
	}
	if input == nil {
		input = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(input),
	)
	if err != nil {
		// A broken schema is a registration bug, not the model's
		// fault. Let the call through rather than failing it.
		return ""
	}
	if result.Valid() {
		return ""
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// JSONContent marshals a structured tool result for delivery to the
// model. Marshal failures degrade to a plain-text note instead of
// failing the tool call.
func JSONContent(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("result could not be encoded: %v", err)
	}
	return string(data)
}
