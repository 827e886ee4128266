package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openroad-labs/carscout/internal/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// The chat endpoint is same-host or behind a trusted proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ConnectedText is the synthetic user message recorded when a client
// opens a fresh session. It prompts the model to greet the user.
const ConnectedText = "(connected)"

// inFrame is one client-to-server chat frame.
type inFrame struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// outFrame is one server-to-client frame. Type is "reply" for
// assistant text, "session" for the session handshake, "debug" for
// diagnostic payloads, and "error" for frame-level problems.
type outFrame struct {
	Type      string `json:"type"`
	Reply     string `json:"reply,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Label     string `json:"label,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// wsEmitter delivers loop output as WebSocket frames. Writes are
// serialized: the loop emits from multiple points and gorilla permits
// one concurrent writer.
type wsEmitter struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	debug  bool
	logger *slog.Logger
}

func (e *wsEmitter) send(frame outFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.WriteJSON(frame); err != nil {
		e.logger.Debug("websocket write failed", "error", err)
	}
}

// Emit sends a reply frame. Empty text is dropped rather than sent as
// a blank bubble.
func (e *wsEmitter) Emit(text string) {
	if text == "" {
		return
	}
	e.send(outFrame{Type: "reply", Reply: text})
}

// Debug forwards a diagnostic payload when debug mode is on.
func (e *wsEmitter) Debug(label string, v any) {
	if !e.debug {
		return
	}
	e.send(outFrame{Type: "debug", Label: label, Payload: v})
}

// handleWebSocket runs the chat protocol over one connection. The
// session either comes from the ?session= query parameter (resuming)
// or is minted fresh. A fresh session gets a synthetic "(connected)"
// user message and an immediate greeting exchange.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sessionID := r.URL.Query().Get("session")
	fresh := sessionID == ""
	if fresh {
		sessionID = newSessionID()
	}

	logger := s.logger.With("session_id", sessionID)
	emitter := &wsEmitter{conn: conn, debug: s.debugEmit, logger: logger}

	emitter.send(outFrame{Type: "session", SessionID: sessionID})
	logger.Info("websocket session opened", "fresh", fresh)

	if fresh {
		if err := s.store.AppendMessage(ctx, sessionID, llm.UserText(ConnectedText)); err != nil {
			logger.Error("persist connect message failed", "error", err)
		} else if err := s.loop.Run(ctx, sessionID, emitter); err != nil {
			logger.Error("greeting exchange failed", "error", err)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			break
		}

		var frame inFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			emitter.send(outFrame{Type: "error", Error: "invalid frame: " + err.Error()})
			continue
		}
		if frame.Message == "" {
			emitter.send(outFrame{Type: "error", Error: "message is required"})
			continue
		}

		if err := s.store.AppendMessage(ctx, sessionID, llm.UserText(frame.Message)); err != nil {
			logger.Error("persist user message failed", "error", err)
			emitter.send(outFrame{Type: "error", Error: "could not record message"})
			continue
		}

		if err := s.loop.Run(ctx, sessionID, emitter); err != nil {
			// The loop already told the user; this is for the logs.
			logger.Error("exchange failed", "error", err)
		}
	}

	logger.Info("websocket session closed")
}
