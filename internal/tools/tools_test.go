package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry()
	tool := func() *Tool {
		return &Tool{
			Name:    "fetch_all_makes",
			Handler: func(ctx context.Context, input map[string]any) (string, error) { return "", nil },
		}
	}

	if err := reg.Register(tool()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(tool()); err == nil {
		t.Fatal("expected error for duplicate tool name")
	}
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&Tool{Name: "", Handler: func(ctx context.Context, input map[string]any) (string, error) { return "", nil }}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register(&Tool{Name: "no_handler"}); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestRegistry_SpecsSortedWithDefaultSchema(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, input map[string]any) (string, error) { return "", nil }
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&Tool{Name: name, Handler: noop}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	specs := reg.Specs()
	if len(specs) != 3 {
		t.Fatalf("specs = %d", len(specs))
	}
	if specs[0].Name != "alpha" || specs[2].Name != "zeta" {
		t.Errorf("specs not sorted: %v", []string{specs[0].Name, specs[1].Name, specs[2].Name})
	}
	if specs[0].InputSchema["type"] != "object" {
		t.Errorf("nil schema not defaulted: %v", specs[0].InputSchema)
	}
}

func TestExecutor_UnknownTool(t *testing.T) {
	exec := NewExecutor(NewRegistry(), nil)
	outcome := exec.Execute(context.Background(), "no_such_tool", nil)
	if outcome.Status != "error" {
		t.Errorf("status = %s, want error", outcome.Status)
	}
	if !strings.Contains(outcome.Content, "unknown tool") {
		t.Errorf("content = %q", outcome.Content)
	}
}

func TestExecutor_HandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			return "", fmt.Errorf("connection refused")
		},
	})

	outcome := NewExecutor(reg, nil).Execute(context.Background(), "flaky", nil)
	if outcome.Status != "error" {
		t.Errorf("status = %s", outcome.Status)
	}
	if !strings.Contains(outcome.Content, "connection refused") {
		t.Errorf("content = %q", outcome.Content)
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "boom",
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			panic("nil map write")
		},
	})

	outcome := NewExecutor(reg, nil).Execute(context.Background(), "boom", nil)
	if outcome.Status != "error" {
		t.Errorf("status = %s, want error after panic", outcome.Status)
	}
}

func TestExecutor_SchemaValidation(t *testing.T) {
	reg := NewRegistry()
	var called bool
	reg.Register(&Tool{
		Name: "needs_year",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year": map[string]any{"type": "integer"},
			},
			"required":             []string{"year"},
			"additionalProperties": false,
		},
		Handler: func(ctx context.Context, input map[string]any) (string, error) {
			called = true
			return "ok", nil
		},
	})
	exec := NewExecutor(reg, nil)

	outcome := exec.Execute(context.Background(), "needs_year", map[string]any{})
	if outcome.Status != "error" {
		t.Errorf("status = %s, want error for missing required field", outcome.Status)
	}
	if called {
		t.Error("handler ran despite invalid input")
	}

	outcome = exec.Execute(context.Background(), "needs_year", map[string]any{"year": float64(2021)})
	if outcome.Status != "success" {
		t.Errorf("status = %s, content = %q", outcome.Status, outcome.Content)
	}
	if !called {
		t.Error("handler did not run for valid input")
	}
}

func TestIntArg(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
		ok    bool
	}{
		{"float", float64(2021), 2021, true},
		{"int", 2021, 2021, true},
		{"string", "2021", 2021, true},
		{"bad string", "twenty", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := intArg(map[string]any{"year": tc.value}, "year")
			if got != tc.want || ok != tc.ok {
				t.Errorf("intArg(%v) = %d, %v; want %d, %v", tc.value, got, ok, tc.want, tc.ok)
			}
		})
	}

	if _, ok := intArg(map[string]any{}, "year"); ok {
		t.Error("intArg found missing key")
	}
}
