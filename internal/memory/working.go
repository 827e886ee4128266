package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Truncation limits applied before every working-state save. The
// state rides inside the system prompt, so unbounded growth would
// blow the prompt budget long before it troubled the database.
const (
	maxStateItems     = 10
	maxPrefChars      = 2000
	prefValueCutChars = 100
)

// WorkingState is the session-scoped accumulator threaded through the
// turn loop: extracted preferences plus the vehicle data already
// retrieved, so repeated tool calls are unnecessary within a session.
type WorkingState struct {
	Preferences map[string]any   `json:"preferences"`
	Cars        []map[string]any `json:"cars"`
	Ratings     []map[string]any `json:"ratings"`
	GasData     []map[string]any `json:"gas_data"`

	// Summary fields record what truncation removed.
	CarsSummary        string `json:"cars_summary,omitempty"`
	RatingsSummary     string `json:"ratings_summary,omitempty"`
	GasDataSummary     string `json:"gas_data_summary,omitempty"`
	PreferencesSummary string `json:"preferences_summary,omitempty"`
}

// NewWorkingState returns an empty state with all fields initialized.
func NewWorkingState() *WorkingState {
	return &WorkingState{
		Preferences: map[string]any{},
		Cars:        []map[string]any{},
		Ratings:     []map[string]any{},
		GasData:     []map[string]any{},
	}
}

// normalize fills in any nil fields so a partial stored value never
// causes downstream nil-map writes.
func (w *WorkingState) normalize() {
	if w.Preferences == nil {
		w.Preferences = map[string]any{}
	}
	if w.Cars == nil {
		w.Cars = []map[string]any{}
	}
	if w.Ratings == nil {
		w.Ratings = []map[string]any{}
	}
	if w.GasData == nil {
		w.GasData = []map[string]any{}
	}
}

// Truncate trims oversized fields in place so the persisted state and
// the prompt stay bounded. Applying it twice yields the same shape.
func (w *WorkingState) Truncate() {
	truncList := func(items []map[string]any, summary *string) []map[string]any {
		if len(items) <= maxStateItems {
			return items
		}
		*summary = fmt.Sprintf("%d total items (showing first %d)", len(items), maxStateItems)
		return items[:maxStateItems]
	}
	w.Cars = truncList(w.Cars, &w.CarsSummary)
	w.Ratings = truncList(w.Ratings, &w.RatingsSummary)
	w.GasData = truncList(w.GasData, &w.GasDataSummary)

	total := 0
	for _, v := range w.Preferences {
		total += len(fmt.Sprint(v))
	}
	if total > maxPrefChars {
		short := make(map[string]any, len(w.Preferences))
		for k, v := range w.Preferences {
			s := fmt.Sprint(v)
			if len(s) > prefValueCutChars {
				s = s[:prefValueCutChars] + "…"
			}
			short[k] = s
		}
		w.Preferences = short
		w.PreferencesSummary = fmt.Sprintf("Preferences truncated (%d fields)", len(w.Preferences))
	}
}

// Update applies the memory rule for a successful tool result. The
// mapping is by tool name; unrecognized tools are no-ops. Result
// content that does not parse as expected is ignored rather than
// corrupting the state.
func (w *WorkingState) Update(toolName, resultContent string) {
	w.normalize()

	switch toolName {
	case "fetch_user_preferences":
		var prefs map[string]any
		if err := json.Unmarshal([]byte(resultContent), &prefs); err != nil {
			return
		}
		for k, v := range prefs {
			w.Preferences[k] = v
		}

	case "fetch_models_of_make_year", "fetch_cars_of_year":
		var payload struct {
			Vehicles []map[string]any `json:"vehicles"`
		}
		if err := json.Unmarshal([]byte(resultContent), &payload); err != nil {
			return
		}
		w.Cars = append(w.Cars, payload.Vehicles...)

	case "fetch_safety_ratings":
		var report map[string]any
		if err := json.Unmarshal([]byte(resultContent), &report); err != nil {
			return
		}
		w.Ratings = append(w.Ratings, report)

	case "fetch_gas_mileage":
		var record map[string]any
		if err := json.Unmarshal([]byte(resultContent), &record); err != nil {
			return
		}
		w.GasData = append(w.GasData, record)
	}
}

// LoadWorkingState returns the session's working state merged over
// defaults, so missing keys never surface as nils.
func (s *Store) LoadWorkingState(ctx context.Context, sessionID string) (*WorkingState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM working_state WHERE session_id = ?
	`, sessionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return NewWorkingState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load working state: %w", err)
	}

	state := NewWorkingState()
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		s.logger.Warn("discarding unparseable working state", "session_id", sessionID, "error", err)
		return NewWorkingState(), nil
	}
	state.normalize()
	return state, nil
}

// SaveWorkingState truncates and persists the state as a whole-value
// overwrite. Sessions process turns sequentially, so last-writer-wins
// is fine.
func (s *Store) SaveWorkingState(ctx context.Context, sessionID string, state *WorkingState) error {
	state.Truncate()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode working state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO working_state (session_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, sessionID, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save working state: %w", err)
	}
	return nil
}
