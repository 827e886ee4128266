// Package prompts holds the system prompt builder and the fixed
// user-facing strings the loop falls back on.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
)

// ExhaustedFallback is emitted when the turn budget runs out without a
// final text answer.
const ExhaustedFallback = "I gathered some information but wasn't able to finish composing an answer. Could you rephrase or narrow down your question?"

// TransportApology is emitted when the model call itself fails.
const TransportApology = "Sorry, I ran into a problem generating a response. Please try again."

// EmptyResponseFallback is emitted when the model goes silent on its
// last chance to answer.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

const persona = "You are CarScout, a helpful assistant that recommends cars. " +
	"You help people figure out what vehicle fits their needs using real data: " +
	"model availability, crash-test ratings, fuel economy, and market prices."

// System builds the per-turn system prompt: persona, tool catalog,
// accumulated session context, and on the final permitted turn an
// explicit directive to answer without further tool use.
func System(specs []llm.ToolSpec, state *memory.WorkingState, turn, maxTurns int) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nAvailable tools:\n")
	if len(specs) == 0 {
		b.WriteString("- (no tools available)\n")
	}
	for _, s := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}

	b.WriteString("\nWhen responding:\n" +
		"- Only emit valid toolUse blocks when invoking tools.\n" +
		"- Never describe tool calls in plain text.\n" +
		"- Do NOT include tool JSON in user-visible replies.\n" +
		"- Be conversational and concise.\n")

	if ctx := stateContext(state); ctx != "" {
		b.WriteString("\nKnown session context (do not re-fetch data already listed here):\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}

	if turn >= maxTurns-1 {
		b.WriteString("\nThis is your final turn. Do not request any tools. " +
			"Answer the user now using the information you already have.\n")
	}

	return b.String()
}

// stateContext renders the non-empty parts of the working state as
// JSON for the prompt. Returns "" when there is nothing accumulated.
func stateContext(state *memory.WorkingState) string {
	if state == nil {
		return ""
	}
	if len(state.Preferences) == 0 && len(state.Cars) == 0 &&
		len(state.Ratings) == 0 && len(state.GasData) == 0 {
		return ""
	}
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	return string(data)
}
