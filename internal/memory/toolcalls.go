package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openroad-labs/carscout/internal/llm"
)

// ToolCallRecord is one audited tool invocation.
type ToolCallRecord struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	ToolUseID   string     `json:"tool_use_id"`
	ToolName    string     `json:"tool_name"`
	Input       string     `json:"input"`
	Status      string     `json:"status,omitempty"`
	Result      string     `json:"result,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
}

// RecordToolCall writes the start of a tool invocation and returns the
// audit row id used to complete it.
func (s *Store) RecordToolCall(ctx context.Context, sessionID string, use *llm.ToolUse) (string, error) {
	input, err := json.Marshal(use.Input)
	if err != nil {
		input = []byte("{}")
	}

	id, _ := uuid.NewV7()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, session_id, tool_use_id, tool_name, input, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id.String(), sessionID, use.ID, use.Name, string(input), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("record tool call: %w", err)
	}
	return id.String(), nil
}

// CompleteToolCall records the outcome of a previously started call.
func (s *Store) CompleteToolCall(ctx context.Context, id string, status llm.ToolResultStatus, result string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls
		SET status = ?, result = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`, string(status), result, time.Now().UTC(), duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("complete tool call: %w", err)
	}
	return nil
}

// ToolCalls returns the audit trail for a session in start order.
func (s *Store) ToolCalls(ctx context.Context, sessionID string) ([]ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, tool_use_id, tool_name, input, status, result, started_at, completed_at, duration_ms
		FROM tool_calls
		WHERE session_id = ?
		ORDER BY started_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var records []ToolCallRecord
	for rows.Next() {
		var r ToolCallRecord
		var status, result sql.NullString
		var completedAt sql.NullTime
		var durationMS sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ToolUseID, &r.ToolName, &r.Input,
			&status, &result, &r.StartedAt, &completedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		r.Status = status.String
		r.Result = result.String
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.DurationMS = durationMS.Int64
		records = append(records, r)
	}
	return records, rows.Err()
}

// ToolCallStats aggregates per-tool call counts and latency.
func (s *Store) ToolCallStats(ctx context.Context) (map[string]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool_name,
		       COUNT(*) AS calls,
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS errors,
		       COALESCE(AVG(duration_ms), 0) AS avg_ms
		FROM tool_calls
		GROUP BY tool_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query tool call stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]map[string]any)
	for rows.Next() {
		var name string
		var calls, errCount int
		var avgMS float64
		if err := rows.Scan(&name, &calls, &errCount, &avgMS); err != nil {
			return nil, err
		}
		stats[name] = map[string]any{
			"calls":  calls,
			"errors": errCount,
			"avg_ms": avgMS,
		}
	}
	return stats, rows.Err()
}
