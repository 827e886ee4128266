package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openroad-labs/carscout/internal/llm"
)

// TargetFlags are the car features the preference extractor looks for
// when the model does not ask about specific ones.
var TargetFlags = []string{
	"number_of_seats",
	"fuel_efficiency",
	"cargo_space",
	"safety_rating",
}

// TranscriptLoader returns the session transcript for preference
// analysis.
type TranscriptLoader func(ctx context.Context) ([]llm.Message, error)

// PreferenceToolDeps carries the collaborators of the preference
// extraction tool: a small classifier model call plus transcript
// access.
type PreferenceToolDeps struct {
	Model      llm.Client
	ModelID    string
	Transcript TranscriptLoader
}

// RegisterPreferenceTool adds fetch_user_preferences to the registry.
func RegisterPreferenceTool(reg *Registry, deps PreferenceToolDeps) error {
	return reg.Register(&Tool{
		Name:        "fetch_user_preferences",
		Description: "Extract which car features (like number_of_seats) the user has mentioned in the conversation.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flags": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional list of flags to analyze; defaults to standard flags.",
				},
			},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			flags := flagsArg(input)
			if len(flags) == 0 {
				flags = TargetFlags
			}

			transcript, err := deps.Transcript(ctx)
			if err != nil {
				return "", fmt.Errorf("load transcript: %w", err)
			}

			detected, err := detectFlags(ctx, deps.Model, deps.ModelID, transcript, flags)
			if err != nil {
				return "", err
			}
			return JSONContent(detected), nil
		},
	})
}

// detectFlags asks a classifier model which of the requested features
// the conversation has touched on. Unparseable classifier output
// degrades to all-false rather than failing the tool.
func detectFlags(ctx context.Context, model llm.Client, modelID string, transcript []llm.Message, flags []string) (map[string]bool, error) {
	var convo []string
	for _, m := range transcript {
		text := m.Text()
		if text == "" {
			continue
		}
		convo = append(convo, fmt.Sprintf("%s: %s", strings.ToUpper(m.Role), text))
	}

	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}

	prompt := fmt.Sprintf(
		"FLAGS: %s\n\nTRANSCRIPT:\n%s\n\nReturn ONLY JSON like: {\"flagA\": true, \"flagB\": false}",
		flagsJSON, strings.Join(convo, "\n"),
	)

	resp, err := model.Converse(ctx, llm.Request{
		Model: modelID,
		System: "You are a JSON-only classifier. " +
			"Given a conversation transcript, output a JSON object whose keys are exactly the requested flags, " +
			"indicating if each feature was mentioned or implied. " +
			"Respond only with valid JSON with no extra text.",
		Messages: []llm.Message{llm.UserText(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	detected := make(map[string]bool, len(flags))
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Message.Text())), &detected); err != nil {
		for _, f := range flags {
			detected[f] = false
		}
		return detected, nil
	}

	// Keep only the requested flags.
	out := make(map[string]bool, len(flags))
	for _, f := range flags {
		out[f] = detected[f]
	}
	return out, nil
}

func flagsArg(input map[string]any) []string {
	raw, ok := input["flags"].([]any)
	if !ok {
		return nil
	}
	var flags []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			flags = append(flags, s)
		}
	}
	return flags
}
