// Package agent implements the bounded turn loop at the heart of
// CarScout: it repeatedly calls the model, executes requested tools,
// folds the results back into the conversation, and decides when to
// stop with a user-facing answer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/openroad-labs/carscout/internal/history"
	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
	"github.com/openroad-labs/carscout/internal/prompts"
	"github.com/openroad-labs/carscout/internal/tools"
)

// Emitter delivers loop output to the client. Emit carries
// assistant-visible text; Debug carries diagnostic payloads that
// transports forward only when debug output is enabled. Delivery
// failures are the transport's problem, not the loop's; the loop
// never inspects a result.
type Emitter interface {
	Emit(text string)
	Debug(label string, v any)
}

// EmitFunc adapts a bare function to an Emitter that discards debug
// output.
type EmitFunc func(text string)

func (f EmitFunc) Emit(text string) { f(text) }

func (f EmitFunc) Debug(string, any) {}

// Store is the persistence surface the loop needs. *memory.Store
// satisfies it.
type Store interface {
	History(ctx context.Context, sessionID string) ([]llm.Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg llm.Message) error
	LoadWorkingState(ctx context.Context, sessionID string) (*memory.WorkingState, error)
	SaveWorkingState(ctx context.Context, sessionID string, state *memory.WorkingState) error
	RecordToolCall(ctx context.Context, sessionID string, use *llm.ToolUse) (string, error)
	CompleteToolCall(ctx context.Context, id string, status llm.ToolResultStatus, result string, duration time.Duration) error
}

// Config bounds the loop's resources.
type Config struct {
	Model         string
	MaxTurns      int
	HistoryWindow int
	ToolTimeout   time.Duration
	ToolWorkers   int
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 4
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = history.DefaultWindow
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.ToolWorkers <= 0 {
		c.ToolWorkers = 10
	}
	return c
}

// Loop drives one exchange: everything between an inbound user
// message and the reply that answers it.
type Loop struct {
	model    llm.Client
	registry *tools.Registry
	executor *tools.Executor
	store    Store
	cfg      Config
	logger   *slog.Logger
}

// New assembles a loop from its collaborators.
func New(model llm.Client, registry *tools.Registry, executor *tools.Executor, store Store, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		model:    model,
		registry: registry,
		executor: executor,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run processes one exchange for a session. It always emits at least
// one non-empty text before returning: a real answer, an apology on
// transport failure, or the exhaustion fallback. The returned error
// is for the caller's logs; the user has already been told.
func (l *Loop) Run(ctx context.Context, sessionID string, emitter Emitter) error {
	logger := l.logger.With("session_id", sessionID)

	hist, err := l.store.History(ctx, sessionID)
	if err != nil {
		emitter.Emit(prompts.TransportApology)
		return fmt.Errorf("load history: %w", err)
	}

	state, err := l.store.LoadWorkingState(ctx, sessionID)
	if err != nil {
		emitter.Emit(prompts.TransportApology)
		return fmt.Errorf("load working state: %w", err)
	}

	specs := l.registry.Specs()

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		// A trailing assistant turn leaves the model nothing to
		// respond to; record the continuation nudge durably so the
		// stored transcript matches what the model saw.
		if n := len(hist); n > 0 && hist[n-1].Role == llm.RoleAssistant {
			nudge := llm.UserText(history.ContinueText)
			if err := l.store.AppendMessage(ctx, sessionID, nudge); err != nil {
				logger.Warn("persist nudge failed", "error", err)
			}
			hist = append(hist, nudge)
		}

		msgs := history.Normalize(hist, l.cfg.HistoryWindow)
		system := prompts.System(specs, state, turn, l.cfg.MaxTurns)

		logger.Debug("calling model", "turn", turn, "messages", len(msgs))

		resp, err := l.model.Converse(ctx, llm.Request{
			Model:    l.cfg.Model,
			System:   system,
			Messages: msgs,
			Tools:    specs,
		})
		if err != nil {
			// Fail fast: no internal retries that could double-invoke
			// a paid model call.
			logger.Error("model call failed", "turn", turn, "error", err)
			emitter.Emit(prompts.TransportApology)
			return fmt.Errorf("model call: %w", err)
		}
		emitter.Debug("model_response", resp)

		assistant := resp.Message
		assistant.Role = llm.RoleAssistant
		if len(assistant.Content) == 0 {
			assistant.Content = []llm.ContentBlock{llm.TextBlock("")}
		}
		if err := l.store.AppendMessage(ctx, sessionID, assistant); err != nil {
			logger.Warn("persist assistant message failed", "error", err)
		}
		hist = append(hist, assistant)

		uses := assistant.ToolUses()

		// Any tool use defers finality, even alongside text; the text
		// may be planning narration rather than the answer.
		if len(uses) == 0 {
			reply := Clean(assistant.Text())
			if reply != "" {
				emitter.Emit(reply)
				logger.Info("exchange answered", "turns", turn+1)
				return nil
			}
			if turn == l.cfg.MaxTurns-1 {
				emitter.Emit(prompts.EmptyResponseFallback)
				logger.Warn("model silent on final turn")
				return nil
			}
			// Empty, tool-free reply: the model is thinking. Continue,
			// letting the nudge above give it something to answer.
			continue
		}

		logger.Debug("tool calls requested", "turn", turn, "count", len(uses))
		for _, use := range uses {
			emitter.Emit(fmt.Sprintf("Calling tool: %s", use.Name))
		}

		results := l.runTools(ctx, sessionID, uses)
		for i, use := range uses {
			emitter.Debug("tool_result", map[string]any{
				"tool":   use.Name,
				"status": results[i].Status,
			})
		}

		for i, use := range uses {
			if results[i].Status == llm.ToolResultSuccess {
				state.Update(use.Name, results[i].Content)
			}
		}
		// Persist after every round, not just at loop end, so a crash
		// mid-loop does not lose accumulated state.
		if err := l.store.SaveWorkingState(ctx, sessionID, state); err != nil {
			logger.Warn("persist working state failed", "error", err)
		}

		resultTurn := llm.Message{Role: llm.RoleUser}
		for i, use := range uses {
			resultTurn.Content = append(resultTurn.Content,
				llm.ToolResultBlock(use.ID, results[i].Status, results[i].Content))
		}
		if err := l.store.AppendMessage(ctx, sessionID, resultTurn); err != nil {
			logger.Warn("persist tool results failed", "error", err)
		}
		hist = append(hist, resultTurn)
	}

	// Budget spent without a terminal answer. Not an error, a defined
	// end state.
	emitter.Emit(prompts.ExhaustedFallback)
	logger.Warn("turn budget exhausted", "max_turns", l.cfg.MaxTurns)
	return nil
}

// runTools executes a round of tool calls on a bounded worker pool.
// Results come back index-aligned with uses so every ToolUse gets its
// paired ToolResult even when siblings fail.
func (l *Loop) runTools(ctx context.Context, sessionID string, uses []*llm.ToolUse) []tools.Outcome {
	ctx = tools.WithSessionID(ctx, sessionID)
	results := make([]tools.Outcome, len(uses))

	p := pool.New().WithMaxGoroutines(l.cfg.ToolWorkers)
	for i, use := range uses {
		p.Go(func() {
			results[i] = l.runTool(ctx, sessionID, use)
		})
	}
	p.Wait()

	return results
}

func (l *Loop) runTool(ctx context.Context, sessionID string, use *llm.ToolUse) tools.Outcome {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.ToolTimeout)
	defer cancel()

	auditID, err := l.store.RecordToolCall(ctx, sessionID, use)
	if err != nil {
		l.logger.Warn("tool call audit failed", "tool", use.Name, "error", err)
	}

	start := time.Now()
	outcome := l.executor.Execute(callCtx, use.Name, use.Input)
	elapsed := time.Since(start)

	if auditID != "" {
		if err := l.store.CompleteToolCall(ctx, auditID, outcome.Status, outcome.Content, elapsed); err != nil {
			l.logger.Warn("tool call audit completion failed", "tool", use.Name, "error", err)
		}
	}

	l.logger.Debug("tool executed",
		"tool", use.Name,
		"status", outcome.Status,
		"duration", elapsed,
	)
	return outcome
}
