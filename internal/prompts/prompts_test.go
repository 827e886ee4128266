package prompts

import (
	"strings"
	"testing"

	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
)

func TestSystem_ToolCatalog(t *testing.T) {
	specs := []llm.ToolSpec{
		{Name: "fetch_all_makes", Description: "List all vehicle manufacturers."},
		{Name: "fetch_gas_mileage", Description: "Fuel economy for a vehicle."},
	}

	got := System(specs, memory.NewWorkingState(), 0, 4)

	if !strings.Contains(got, "- fetch_all_makes: List all vehicle manufacturers.") {
		t.Errorf("prompt missing tool listing:\n%s", got)
	}
	if !strings.Contains(got, "- fetch_gas_mileage:") {
		t.Errorf("prompt missing second tool:\n%s", got)
	}
	if strings.Contains(got, "final turn") {
		t.Error("final-turn directive present on turn 0")
	}
}

func TestSystem_NoTools(t *testing.T) {
	got := System(nil, nil, 0, 4)
	if !strings.Contains(got, "(no tools available)") {
		t.Errorf("prompt missing empty-catalog marker:\n%s", got)
	}
}

func TestSystem_FinalTurnDirective(t *testing.T) {
	got := System(nil, nil, 3, 4)
	if !strings.Contains(got, "Do not request any tools.") {
		t.Errorf("final-turn directive missing:\n%s", got)
	}
}

func TestSystem_IncludesWorkingState(t *testing.T) {
	state := memory.NewWorkingState()
	state.Preferences["number_of_seats"] = true
	state.Cars = append(state.Cars, map[string]any{"Model_Name": "RAV4"})

	got := System(nil, state, 1, 4)

	if !strings.Contains(got, "Known session context") {
		t.Errorf("prompt missing session context:\n%s", got)
	}
	if !strings.Contains(got, "RAV4") {
		t.Errorf("prompt missing accumulated cars:\n%s", got)
	}
}

func TestSystem_OmitsEmptyState(t *testing.T) {
	got := System(nil, memory.NewWorkingState(), 1, 4)
	if strings.Contains(got, "Known session context") {
		t.Error("empty state rendered into prompt")
	}
}
