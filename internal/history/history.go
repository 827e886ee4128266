// Package history prepares stored transcripts for the model call.
// The Messages API requires strictly alternating user/assistant turns
// with non-empty content and fully paired tool exchanges; stored
// history can violate all of that (interrupted loops, windowing,
// back-to-back user sends), so everything is repaired here rather
// than at the call site.
package history

import (
	"github.com/openroad-labs/carscout/internal/llm"
)

// ContinueText is the synthetic user turn appended when the
// conversation trails off with an assistant message. It gives the
// model something to respond to instead of stalling.
const ContinueText = "(continue)"

// DefaultWindow is the soft clip applied before normalization.
const DefaultWindow = 20

// Normalize converts a raw stored transcript into a sequence safe to
// send to the model: malformed entries dropped, a bounded window
// applied, orphaned tool fragments repaired, same-role runs merged,
// and a continuation nudge appended if the transcript ends on an
// assistant turn.
func Normalize(raw []llm.Message, window int) []llm.Message {
	if window <= 0 {
		window = DefaultWindow
	}

	msgs := dropMalformed(raw)
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	msgs = dropLeadingFragments(msgs)
	msgs = repairToolPairs(msgs)
	msgs = mergeSameRole(msgs)

	if len(msgs) == 0 {
		return nil
	}
	if msgs[len(msgs)-1].Role == llm.RoleAssistant {
		msgs = append(msgs, llm.UserText(ContinueText))
	}
	return msgs
}

// dropMalformed removes entries with an unknown role or no content.
func dropMalformed(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if len(m.Content) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// dropLeadingFragments discards messages at the head of the window
// until the transcript begins with a plain user turn. An assistant
// turn or a tool-result turn at the head means the pairing
// predecessor was clipped away.
func dropLeadingFragments(msgs []llm.Message) []llm.Message {
	for len(msgs) > 0 {
		first := msgs[0]
		if first.Role == llm.RoleUser && !first.HasToolResult() {
			break
		}
		msgs = msgs[1:]
	}
	return msgs
}

// repairToolPairs enforces the pairing invariant: every tool use must
// have a matching result in the immediately following turn, and every
// result must answer a use in the immediately preceding turn.
// Unpaired blocks are stripped; messages left empty are dropped.
func repairToolPairs(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		var kept []llm.ContentBlock
		for _, block := range m.Content {
			switch block.Kind {
			case llm.BlockToolUse:
				if i+1 < len(msgs) && hasResultFor(msgs[i+1], block.ToolUse.ID) {
					kept = append(kept, block)
				}
			case llm.BlockToolResult:
				if i > 0 && hasUseFor(msgs[i-1], block.ToolResult.ToolUseID) {
					kept = append(kept, block)
				}
			default:
				kept = append(kept, block)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: kept})
	}
	return out
}

func hasResultFor(m llm.Message, toolUseID string) bool {
	for _, block := range m.Content {
		if block.Kind == llm.BlockToolResult && block.ToolResult.ToolUseID == toolUseID {
			return true
		}
	}
	return false
}

func hasUseFor(m llm.Message, toolUseID string) bool {
	for _, block := range m.Content {
		if block.Kind == llm.BlockToolUse && block.ToolUse.ID == toolUseID {
			return true
		}
	}
	return false
}

// mergeSameRole coalesces consecutive same-role messages into one
// turn. Back-to-back user sends are common when a client fires
// multiple frames before the loop runs.
func mergeSameRole(msgs []llm.Message) []llm.Message {
	if len(msgs) == 0 {
		return msgs
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = append(out[n-1].Content, m.Content...)
			continue
		}
		// Copy content so appends above never alias the caller's slice.
		merged := llm.Message{Role: m.Role, Content: append([]llm.ContentBlock(nil), m.Content...)}
		out = append(out, merged)
	}
	return out
}
