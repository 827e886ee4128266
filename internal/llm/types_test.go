package llm

import (
	"encoding/json"
	"testing"
)

func TestContentBlock_JSONRoundTrip(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("Let me look that up."),
			ToolUseBlock("tu_1", "fetch_safety_ratings", map[string]any{
				"year": "2021", "make": "Honda", "model": "CR-V",
			}),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Role != RoleAssistant {
		t.Errorf("Role = %q", got.Role)
	}
	if len(got.Content) != 2 {
		t.Fatalf("Content blocks = %d, want 2", len(got.Content))
	}
	if got.Content[0].Kind != BlockText || got.Content[0].Text != "Let me look that up." {
		t.Errorf("block 0 = %+v", got.Content[0])
	}
	if got.Content[1].Kind != BlockToolUse {
		t.Fatalf("block 1 kind = %v", got.Content[1].Kind)
	}
	tu := got.Content[1].ToolUse
	if tu.ID != "tu_1" || tu.Name != "fetch_safety_ratings" {
		t.Errorf("tool use = %+v", tu)
	}
	if tu.Input["make"] != "Honda" {
		t.Errorf("input make = %v", tu.Input["make"])
	}
}

func TestContentBlock_WireShape(t *testing.T) {
	// Persisted transcripts use single-key objects per block.
	data, err := json.Marshal(TextBlock("hi"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"text":"hi"}` {
		t.Errorf("text block wire = %s", data)
	}

	data, err = json.Marshal(ToolResultBlock("tu_9", ToolResultError, "timeout"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"toolResult":{"toolUseId":"tu_9","status":"error","content":"timeout"}}`
	if string(data) != want {
		t.Errorf("tool result wire = %s, want %s", data, want)
	}
}

func TestContentBlock_UnmarshalUnknown(t *testing.T) {
	var b ContentBlock
	if err := json.Unmarshal([]byte(`{"image":{"bytes":"..."}}`), &b); err == nil {
		t.Error("expected error for unrecognized block key")
	}
}

func TestMessage_Text(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("part one "),
			ToolUseBlock("tu_1", "fetch_all_makes", nil),
			TextBlock("part two"),
		},
	}
	if got := msg.Text(); got != "part one part two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestMessage_ToolUses(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			ToolUseBlock("tu_1", "fetch_all_makes", nil),
			TextBlock("and"),
			ToolUseBlock("tu_2", "fetch_gas_mileage", map[string]any{"year": "2020"}),
		},
	}

	uses := msg.ToolUses()
	if len(uses) != 2 {
		t.Fatalf("ToolUses() = %d, want 2", len(uses))
	}
	if uses[0].ID != "tu_1" || uses[1].ID != "tu_2" {
		t.Errorf("tool use order: %q, %q", uses[0].ID, uses[1].ID)
	}

	if !msg.HasToolUse() {
		t.Error("HasToolUse() = false")
	}
	if msg.HasToolResult() {
		t.Error("HasToolResult() = true for a message with no results")
	}
	if UserText("hello").HasToolUse() {
		t.Error("plain user message reports tool use")
	}
}
