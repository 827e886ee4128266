package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openroad-labs/carscout/internal/agent"
	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
	"github.com/openroad-labs/carscout/internal/tools"
)

// queuedModel returns canned responses in order.
type queuedModel struct {
	responses []*llm.Response
}

func (m *queuedModel) Converse(context.Context, llm.Request) (*llm.Response, error) {
	if len(m.responses) == 0 {
		return nil, errors.New("queued model: no responses left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *queuedModel) Ping(context.Context) error { return nil }

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Message: llm.Message{
			Role:    llm.RoleAssistant,
			Content: []llm.ContentBlock{llm.TextBlock(text)},
		},
		StopReason: "end_turn",
	}
}

func newTestServer(t *testing.T, model llm.Client) (*Server, *memory.Store) {
	t.Helper()

	store, err := memory.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := tools.NewRegistry()
	loop := agent.New(model, registry, tools.NewExecutor(registry, nil), store,
		agent.Config{Model: "test-model"}, nil)

	return NewServer("", 0, loop, store, nil), store
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &queuedModel{responses: []*llm.Response{
		textResponse("The Corolla is a solid commuter choice."),
	}})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json",
		strings.NewReader(`{"message": "Recommend a commuter car"}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string   `json:"session_id"`
		Replies   []string `json:"replies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID == "" {
		t.Error("session_id missing from response")
	}
	if len(body.Replies) != 1 || !strings.Contains(body.Replies[0], "Corolla") {
		t.Errorf("replies = %v", body.Replies)
	}
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &queuedModel{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/chat", "application/json",
		strings.NewReader(`{"message": ""}`))
	if err != nil {
		t.Fatalf("POST /v1/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConversationEndpoints(t *testing.T) {
	srv, store := newTestServer(t, &queuedModel{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx := context.Background()
	if err := store.AppendMessage(ctx, "s1", llm.UserText("hi")); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(ctx, "s1", llm.AssistantText("hello")); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/v1/conversations")
	if err != nil {
		t.Fatalf("GET /v1/conversations: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 1 || list.Sessions[0] != "s1" {
		t.Errorf("sessions = %v", list.Sessions)
	}

	resp2, err := http.Get(ts.URL + "/v1/conversations/s1")
	if err != nil {
		t.Fatalf("GET /v1/conversations/s1: %v", err)
	}
	defer resp2.Body.Close()
	var conv struct {
		Messages []llm.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(conv.Messages))
	}
}

func TestConversationExport(t *testing.T) {
	srv, store := newTestServer(t, &queuedModel{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx := context.Background()
	store.AppendMessage(ctx, "s1", llm.UserText("What about the RAV4?"))
	store.AppendMessage(ctx, "s1", llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.ContentBlock{
			llm.ToolUseBlock("tu_1", "fetch_gas_mileage", nil),
		},
	})
	store.AppendMessage(ctx, "s1", llm.Message{
		Role: llm.RoleUser,
		Content: []llm.ContentBlock{
			llm.ToolResultBlock("tu_1", llm.ToolResultSuccess, `{"city_mpg":27}`),
		},
	})
	store.AppendMessage(ctx, "s1", llm.AssistantText("It gets 27 mpg city."))

	resp, err := http.Get(ts.URL + "/v1/conversations/s1/export")
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	defer resp.Body.Close()
	md := readAll(t, resp)
	for _, want := range []string{
		"# Conversation s1",
		"**User:** What about the RAV4?",
		"*Called tool `fetch_gas_mileage`*",
		"**Assistant:** It gets 27 mpg city.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown export missing %q:\n%s", want, md)
		}
	}

	resp2, err := http.Get(ts.URL + "/v1/conversations/s1/export?format=html")
	if err != nil {
		t.Fatalf("GET export html: %v", err)
	}
	defer resp2.Body.Close()
	html := readAll(t, resp2)
	if !strings.Contains(html, "<!DOCTYPE html>") {
		t.Error("html export missing document envelope")
	}
	if !strings.Contains(html, "<strong>Assistant:</strong>") {
		t.Errorf("html export not rendered from markdown:\n%s", html)
	}

	resp3, err := http.Get(ts.URL + "/v1/conversations/missing/export")
	if err != nil {
		t.Fatalf("GET export missing: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("status for empty session = %d, want 404", resp3.StatusCode)
	}
}

func TestToolStatsEndpoint(t *testing.T) {
	srv, store := newTestServer(t, &queuedModel{})
	ts := httptest.NewServer(srv.routes())
	defer ts.Close()

	ctx := context.Background()
	store.EnsureSession(ctx, "s1")
	id, err := store.RecordToolCall(ctx, "s1", &llm.ToolUse{
		ID: "tu_1", Name: "fetch_all_makes", Input: map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	store.CompleteToolCall(ctx, id, llm.ToolResultSuccess, `{}`, 0)

	resp, err := http.Get(ts.URL + "/v1/tools/stats")
	if err != nil {
		t.Fatalf("GET /v1/tools/stats: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Tools map[string]map[string]any `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body.Tools["fetch_all_makes"]; !ok {
		t.Errorf("stats missing fetch_all_makes: %v", body.Tools)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}
