// Package api implements the HTTP surface: the WebSocket chat
// endpoint, a synchronous chat endpoint for scripting, and read-only
// introspection of sessions, working state, and the tool-call audit
// trail.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openroad-labs/carscout/internal/agent"
	"github.com/openroad-labs/carscout/internal/buildinfo"
	"github.com/openroad-labs/carscout/internal/llm"
	"github.com/openroad-labs/carscout/internal/memory"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the CarScout HTTP server.
type Server struct {
	address   string
	port      int
	loop      *agent.Loop
	store     *memory.Store
	debugEmit bool
	logger    *slog.Logger

	server *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, store *memory.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		store:   store,
		logger:  logger,
	}
}

// SetDebugEmit enables forwarding of loop debug payloads over the
// WebSocket as debug frames.
func (s *Server) SetDebugEmit(enabled bool) {
	s.debugEmit = enabled
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /v1/chat", s.handleChat)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Session introspection
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("GET /v1/conversations/{id}/state", s.handleConversationState)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleConversationExport)

	// Tool audit trail
	mux.HandleFunc("GET /v1/tools/calls", s.handleToolCalls)
	mux.HandleFunc("GET /v1/tools/stats", s.handleToolStats)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "CarScout",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":   "healthy",
		"sessions": s.store.Stats(r.Context()),
	}, s.logger)
}

// handleChat runs one full exchange synchronously and returns every
// emitted text. Useful for scripting and the ask command; interactive
// clients should use the WebSocket.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	ctx := r.Context()
	if err := s.store.AppendMessage(ctx, sessionID, llm.UserText(req.Message)); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "persist message: "+err.Error())
		return
	}

	var replies []string
	err := s.loop.Run(ctx, sessionID, agent.EmitFunc(func(text string) {
		replies = append(replies, text)
	}))
	if err != nil {
		s.logger.Error("chat exchange failed", "session_id", sessionID, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": sessionID,
		"replies":    replies,
	}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.SessionIDs(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"sessions": ids}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.store.History(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
	}, s.logger)
}

func (s *Server) handleConversationState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.store.LoadWorkingState(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"state":      state,
	}, s.logger)
}

func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	msgs, err := s.store.History(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(msgs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "no messages for session "+id)
		return
	}

	md := transcriptMarkdown(id, msgs)

	switch format {
	case "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, md)
	case "html":
		html, err := transcriptHTML(id, md)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "render HTML: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	default:
		s.errorResponse(w, http.StatusBadRequest, "unknown format: "+format)
	}
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	calls, err := s.store.ToolCalls(r.Context(), sessionID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": sessionID,
		"calls":      calls,
	}, s.logger)
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ToolCallStats(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": stats}, s.logger)
}
